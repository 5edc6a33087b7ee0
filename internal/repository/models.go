package repository

import "CatalystPull/internal/domain/models"

// Models lists every gorm model for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&models.Catalyst{},
		&models.EntityMapping{},
		&models.StockProfile{},
		&models.Outcome{},
		&models.PredictionCacheEntry{},
		&models.Credential{},
	}
}
