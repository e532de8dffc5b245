package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConnectToDatabase opens the postgres connection used by every store.
func ConnectToDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Printf("ERROR: Failed to connect to the database using DSN: %v", err)
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	log.Println("INFO: Database connection successful.")
	return db, nil
}
