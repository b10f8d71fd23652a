package model

import (
	"time"

	"gorm.io/datatypes"
)

// Character is a player-created persona. Attributes holds the cosmetic
// document exactly as the client sent it, minus the name.
type Character struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string         `gorm:"uniqueIndex;size:64;not null" json:"name"`
	HighestScore int64          `gorm:"not null;default:0" json:"highest_score"`
	Attributes   datatypes.JSON `json:"attributes"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
