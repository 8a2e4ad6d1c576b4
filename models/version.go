package models

import (
	"time"
)

// Version ist der unveränderliche Provenienz-Stempel eines Pipeline-Laufs.
// Jede Zeile, die ein Lauf erzeugt, referenziert genau eine Version.
type Version struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Name      string    `json:"name" gorm:"index:idx_versions_name_ts,unique;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"index:idx_versions_name_ts,unique;not null"`
	User      string    `json:"user"`
	Metadata  []byte    `json:"metadata,omitempty" gorm:"type:jsonb"`
}

func (Version) TableName() string { return "versions" }
