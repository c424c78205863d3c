package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Canvas   CanvasConfig   `yaml:"canvas"`
	Courses  CoursesConfig  `yaml:"courses"`
	Grading  GradingConfig  `yaml:"grading"`
	Workers  WorkersConfig  `yaml:"workers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver             string        `yaml:"driver" validate:"oneof=mysql postgres sqlite"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name" validate:"required"`
	Charset            string        `yaml:"charset"`
	Loc                string        `yaml:"loc"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
	SlowThreshold      time.Duration `yaml:"slow_threshold"`
}

type RedisConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	PoolSize        int           `yaml:"pool_size"`
	RunQueue        string        `yaml:"run_queue"`
	RuleImportQueue string        `yaml:"rule_import_queue"`
	DLQSuffix       string        `yaml:"dlq_suffix"`
	KeyPrefix       string        `yaml:"key_prefix"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	JobTTL          time.Duration `yaml:"job_ttl"`
}

type StorageConfig struct {
	S3            S3Config `yaml:"s3"`
	ExportRecords bool     `yaml:"export_records"`
	ExportPrefix  string   `yaml:"export_prefix"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type CanvasConfig struct {
	BaseURL          string        `yaml:"base_url" validate:"required,url"`
	AccountID        int64         `yaml:"account_id" validate:"gt=0"`
	Token            string        `yaml:"token"`
	PerPage          int           `yaml:"per_page" validate:"gte=1,lte=100"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retry_attempts" validate:"gte=1"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	DefaultTermID    int64         `yaml:"default_term_id"`
	FilterByRoster   bool          `yaml:"filter_by_roster"`
	PublishedCourses bool          `yaml:"published_courses"`
}

type CoursesConfig struct {
	// Course names matching any of these patterns are never rostered, ingested or graded.
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

type GradingConfig struct {
	DefaultRules []GradeRuleConfig `yaml:"default_rules" validate:"dive"`
}

type GradeRuleConfig struct {
	Rank      int     `yaml:"rank" validate:"gte=1"`
	Grade     string  `yaml:"grade" validate:"required"`
	Threshold float64 `yaml:"threshold" validate:"gte=0"`
	MinScore  float64 `yaml:"min_score" validate:"gte=0"`
}

type WorkersConfig struct {
	CourseConcurrency int                    `yaml:"course_concurrency" validate:"gte=1"`
	Sync              SyncWorkerConfig       `yaml:"sync"`
	Schedule          ScheduleWorkerConfig   `yaml:"schedule"`
	RuleImport        RuleImportWorkerConfig `yaml:"rule_import"`
}

type SyncWorkerConfig struct {
	Count int `yaml:"count" validate:"gte=1"`
}

type ScheduleWorkerConfig struct {
	Cron       string `yaml:"cron"`
	Timezone   string `yaml:"timezone"`
	RunOnStart bool   `yaml:"run_on_start"`
}

type RuleImportWorkerConfig struct {
	Count int `yaml:"count" validate:"gte=1"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	return LoadFile(configPath)
}

func LoadFile(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func Default() *Config {
	return &Config{
		App: AppConfig{Name: "cbl-grade-sync", Version: "dev", Env: "development"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:             "mysql",
			Host:               "localhost",
			Port:               3306,
			Name:               "cbl",
			Charset:            "utf8mb4",
			Loc:                "UTC",
			SSLMode:            "disable",
			MaxConnections:     10,
			MaxIdleConnections: 5,
			ConnectionLifetime: 30 * time.Minute,
			SlowThreshold:      time.Second,
		},
		Redis: RedisConfig{
			Host:            "localhost",
			Port:            6379,
			PoolSize:        10,
			RunQueue:        "cbl:runs",
			RuleImportQueue: "cbl:rule-imports",
			DLQSuffix:       ":dlq",
			KeyPrefix:       "cbl",
			LockTTL:         4 * time.Hour,
			JobTTL:          7 * 24 * time.Hour,
		},
		Storage: StorageConfig{ExportPrefix: "exports"},
		Canvas: CanvasConfig{
			BaseURL:          "https://canvas.instructure.com",
			AccountID:        1,
			PerPage:          100,
			Timeout:          60 * time.Second,
			RetryAttempts:    3,
			RetryDelay:       2 * time.Second,
			PublishedCourses: true,
		},
		Courses: CoursesConfig{
			ExcludePatterns: []string{`^@dtech`, `^Teacher Assistant`, `^LAB Day`, `^FIT`, `^Innovation Diploma FIT`},
		},
		Grading: GradingConfig{
			DefaultRules: []GradeRuleConfig{
				{Rank: 1, Grade: "A", Threshold: 3.5, MinScore: 3},
				{Rank: 2, Grade: "A-", Threshold: 3.5, MinScore: 2.5},
				{Rank: 3, Grade: "B+", Threshold: 3, MinScore: 2.5},
				{Rank: 4, Grade: "B", Threshold: 3, MinScore: 2.25},
				{Rank: 5, Grade: "B-", Threshold: 3, MinScore: 2},
				{Rank: 6, Grade: "C", Threshold: 2.5, MinScore: 2},
				{Rank: 7, Grade: "I", Threshold: 0, MinScore: 0},
			},
		},
		Workers: WorkersConfig{
			CourseConcurrency: 4,
			Sync:              SyncWorkerConfig{Count: 1},
			Schedule:          ScheduleWorkerConfig{Cron: "5 8 * * 1-5", Timezone: "UTC"},
			RuleImport:        RuleImportWorkerConfig{Count: 1},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CANVAS_API_KEY"); v != "" {
		c.Canvas.Token = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		c.Storage.S3.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		c.Storage.S3.SecretKey = v
	}
	if v := os.Getenv("CANVAS_DEFAULT_TERM_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Canvas.DefaultTermID = id
		}
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) DatabaseDSN() string {
	switch c.Database.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
			c.Database.Name, c.Database.SSLMode, c.Database.Loc)
	case "sqlite":
		return c.Database.Name
	default:
		loc, err := time.LoadLocation(c.Database.Loc)
		if err != nil {
			loc = time.UTC
		}
		dsn := mysql.NewConfig()
		dsn.User = c.Database.User
		dsn.Passwd = c.Database.Password
		dsn.Net = "tcp"
		dsn.Addr = fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port)
		dsn.DBName = c.Database.Name
		dsn.ParseTime = true
		dsn.Loc = loc
		dsn.Params = map[string]string{"charset": c.Database.Charset}
		return dsn.FormatDSN()
	}
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
