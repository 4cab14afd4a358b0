package data

import (
	"fmt"
	"strings"
	"time"

	"ConnGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// NewDB creates the GORM client for the connection status store.
// The dialect is chosen by conf.Database.Driver and defaults to MySQL.
func NewDB(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	helper := log.NewHelper(l)

	if c == nil || c.Database == nil || c.Database.Source == "" {
		helper.Error("database configuration is missing")
		return nil, nil, fmt.Errorf("database configuration is required")
	}

	dialector, err := openDialector(c.Database)
	if err != nil {
		return nil, nil, err
	}

	gormLogger := logger.New(
		&gormLogAdapter{helper: helper},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		helper.Errorf("failed to connect to %s: %v", c.Database.Driver, err)
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxIdle, maxOpen := c.Database.MaxIdleConns, c.Database.MaxOpenConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	if maxOpen <= 0 {
		maxOpen = 50
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		helper.Errorf("failed to ping database: %v", err)
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.AutoMigrate(&Connection{}); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to migrate connections table: %w", err)
	}

	helper.Infow("msg", "database connection established", "driver", driverName(c.Database))

	cleanup := func() {
		helper.Info("closing database connection")
		if err := sqlDB.Close(); err != nil {
			helper.Errorf("failed to close database: %v", err)
		}
	}

	return db, cleanup, nil
}

func driverName(c *conf.Database) string {
	if c.Driver == "" {
		return DriverMySQL
	}
	return strings.ToLower(c.Driver)
}

func openDialector(c *conf.Database) (gorm.Dialector, error) {
	switch driverName(c) {
	case DriverMySQL:
		return mysql.Open(c.Source), nil
	case DriverPostgres, "postgresql", "pgx":
		return postgres.Open(c.Source), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
}

// gormLogAdapter adapts Kratos log.Helper to GORM logger interface.
type gormLogAdapter struct {
	helper *log.Helper
}

// Printf implements gorm/logger.Writer interface.
func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Infof(format, v...)
}
