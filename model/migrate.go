package model

import "gorm.io/gorm"

// allModels lists every model to be auto-migrated. Order matters for the
// foreign keys of cooperative_players.
var allModels = []interface{}{
	&Character{},
	&CooperativePair{},
	&AuditLog{},
}

// AutoMigrate creates or updates all tables in the given database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels...)
}
