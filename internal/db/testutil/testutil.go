package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
)

// DB opens a private in-memory sqlite database with the full schema applied.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString())

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return gdb
}

// Repo returns a repository over a fresh test database.
func Repo(tb testing.TB) (db.Repository, *gorm.DB) {
	tb.Helper()
	gdb := DB(tb)
	return db.NewRepository(gdb), gdb
}

// MustCreate inserts fixtures or fails the test.
func MustCreate(tb testing.TB, gdb *gorm.DB, values ...interface{}) {
	tb.Helper()
	for _, v := range values {
		if err := gdb.Create(v).Error; err != nil {
			tb.Fatalf("create fixture %T: %v", v, err)
		}
	}
}

// DefaultRules is the classification table used across tests.
func DefaultRules() []model.GradeRule {
	return []model.GradeRule{
		{Rank: 1, Grade: "A", Threshold: 3.5, MinScore: 3},
		{Rank: 2, Grade: "A-", Threshold: 3.5, MinScore: 2.5},
		{Rank: 3, Grade: "B+", Threshold: 3, MinScore: 2.5},
		{Rank: 4, Grade: "B", Threshold: 3, MinScore: 2.25},
		{Rank: 5, Grade: "B-", Threshold: 3, MinScore: 2},
		{Rank: 6, Grade: "C", Threshold: 2.5, MinScore: 2},
		{Rank: 7, Grade: "I", Threshold: 0, MinScore: 0},
	}
}

func Float(v float64) *float64 { return &v }
