package storage

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ResolveSQLDriver normalizes a configured driver or dialect name.
func ResolveSQLDriver(driver, dialect string) (string, error) {
	if normalized := normalizeDriver(driver); normalized != "" {
		return normalized, nil
	}
	if normalized := normalizeDriver(dialect); normalized != "" {
		return normalized, nil
	}
	return "", fmt.Errorf("unsupported storage driver: %s", driver)
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

// OpenGorm opens a GORM handle for a normalized driver name.
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), config)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), config)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
