// Package db opens the Postgres connection and manages schema and seed data.
package db

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"promptory/internal/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to Postgres and checks the connection is usable.
func Open(dsn string, logger *slog.Logger) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if logger != nil {
		logger.Info("database connection established")
	}
	return conn, nil
}

// Models lists every table the application owns, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.Profile{},
		&models.AuthToken{},
		&models.Category{},
		&models.CollectionCategory{},
		&models.Prompt{},
		&models.Collection{},
		&models.CollectionPrompt{},
		&models.Like{},
		&models.CollectionLike{},
	}
}

// AutoMigrate brings the tables up to the model definitions. It does not
// install the change notification triggers; Migrate does.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func newMigrate(dir, dsn string) (*migrate.Migrate, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	m, err := migrate.New("file://"+filepath.ToSlash(abs), dsn)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending SQL migration in dir. Already being at the
// latest version is not an error.
func Migrate(dir, dsn string) (uint, error) {
	m, err := newMigrate(dir, dsn)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return version, nil
}

// Rollback reverts the last steps migrations.
func Rollback(dir, dsn string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, err := newMigrate(dir, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}
