package database

import (
	"github.com/yeremiapane/table-join/models"
	"github.com/yeremiapane/table-join/utils"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the join service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Table{},
		&models.JoinRequest{},
		&models.JoinSession{},
		&models.TableOccupancy{},
		&models.Notification{},
	)
	if err != nil {
		utils.ErrorLogger.Printf("AutoMigrate failed: %v", err)
		return err
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
	return nil
}
