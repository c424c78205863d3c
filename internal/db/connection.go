package db

import (
	"fmt"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func NewConnection(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseDSN())
	default:
		dialector = mysql.Open(cfg.DatabaseDSN())
	}

	gormLog := gormLogger.New(
		logger.GormWriter{Log: logger.Component("gorm")},
		gormLogger.Config{
			SlowThreshold:             cfg.Database.SlowThreshold,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Database.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnectionLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates every table the pipeline reads and writes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Term{},
		&model.Course{},
		&model.User{},
		&model.Enrollment{},
		&model.Outcome{},
		&model.Alignment{},
		&model.OutcomeResult{},
		&model.GradeRule{},
		&model.Record{},
		&model.Grade{},
	)
}
