package model

import "time"

// CooperativePair holds the best joint score of two characters.
// Rows are stored normalized: Player1ID < Player2ID.
type CooperativePair struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Player1ID    int64     `gorm:"not null;uniqueIndex:idx_coop_pair,priority:1" json:"player1_id"`
	Player2ID    int64     `gorm:"not null;uniqueIndex:idx_coop_pair,priority:2;index:idx_coop_player2" json:"player2_id"`
	HighestScore int64     `gorm:"not null;default:0;index:idx_coop_score" json:"highest_score"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Player1 Character `gorm:"foreignKey:Player1ID;constraint:OnDelete:CASCADE" json:"-"`
	Player2 Character `gorm:"foreignKey:Player2ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName keeps the table name the game client tooling already knows.
func (CooperativePair) TableName() string { return "cooperative_players" }
