package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = gorm.ErrRecordNotFound

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SetupDatabase opens the configured backend and migrates every table.
func SetupDatabase(
	dbBackend string,
	dbPathSqlite string,
	dbURLPostgres string,
	debug bool,
) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbBackend {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(dbPathSqlite))
	case "postgres":
		dialector = postgres.Open(dbURLPostgres)
	default:
		return nil, fmt.Errorf("unsupported database backend: %s", dbBackend)
	}

	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logLevel)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	stmt := &gorm.Statement{DB: db}
	for i, table := range Tables {
		if err := stmt.Parse(table); err != nil {
			return fmt.Errorf("parse table model: %w", err)
		}
		zap.L().Debug("migrating table",
			zap.Int("index", i+1),
			zap.Int("total", len(Tables)),
			zap.String("table", stmt.Schema.Table),
		)
		if err := db.AutoMigrate(table); err != nil {
			return fmt.Errorf("migrate table %s: %w", stmt.Schema.Table, err)
		}
	}
	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return path + "?" + sqlitePragmas
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
