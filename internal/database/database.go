package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/relaygrid/metadata/internal/config"
	"github.com/relaygrid/metadata/internal/conversations"
	"github.com/relaygrid/metadata/internal/directory"
	"github.com/relaygrid/metadata/internal/identity"
)

// Open establishes a database connection for the configured driver and
// performs schema migrations. TranslateError is enabled so unique-key
// violations surface as gorm.ErrDuplicatedKey on both drivers.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if driver == config.DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite has a single writer; one connection avoids spurious
		// SQLITE_BUSY between the pool's handles.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&conversations.Conversation{},
		&conversations.Membership{},
		&conversations.SequenceLogEntry{},
		&identity.Mapping{},
		&directory.Profile{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driver))
	}

	return db, nil
}
