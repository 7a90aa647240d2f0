package db

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/richardslaw/clio-intake/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the SQLite database and runs migrations.
func Init(dbPath string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := database.AutoMigrate(
		&models.Credential{},
		&models.IntakeSubmission{},
		&models.FieldMapping{},
		&models.Setting{},
	); err != nil {
		return nil, err
	}

	ensureAPIKey(database)

	return database, nil
}

// ensureAPIKey generates the service API key on first run.
func ensureAPIKey(database *gorm.DB) {
	var setting models.Setting
	result := database.Where("key = ?", "api_key").First(&setting)

	if result.Error != nil {
		keyBytes := make([]byte, 16)
		rand.Read(keyBytes)
		apiKey := "sk-" + hex.EncodeToString(keyBytes)

		database.Create(&models.Setting{
			Key:   "api_key",
			Value: apiKey,
		})
		log.Printf("🔑 Generated new API key: %s", apiKey)
	}
}

// GetAPIKey retrieves the service API key from the database.
func GetAPIKey(database *gorm.DB) string {
	var setting models.Setting
	database.Where("key = ?", "api_key").First(&setting)
	return setting.Value
}
