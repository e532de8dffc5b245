package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"migration-agent/agent/internal/models"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies the embedded SQL migrations. They own the constraints the
// gorm models only hint at (CHECKs, cascading foreign keys).
func RunMigrations(dsn string) error {
	dbSQL, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection for migrations: %w", err)
	}
	defer dbSQL.Close()

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(dbSQL, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("INFO: Database schema already up to date.")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	log.Printf("INFO: SQL migrations applied (version=%d, dirty=%t).", version, dirty)
	return nil
}

// AutoMigrate keeps the gorm view of the schema in sync. On postgres it runs after
// RunMigrations as a safety net; tests use it alone against sqlite.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Coin{},
		&models.SocialPost{},
		&models.VerificationAttempt{},
		&models.BlacklistEntry{},
		&models.TradeAction{},
	)
	if err != nil {
		return fmt.Errorf("gorm automigrate: %w", err)
	}
	return nil
}
