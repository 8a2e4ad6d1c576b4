package models

import (
	"time"
)

// CursorMark hält den opaken Paginierungs-Token der Europe PMC Suche fest.
// Append-only: jeder Seitenwechsel schreibt eine neue Zeile, gelesen wird
// immer die jüngste. Bricht ein Lauf zwischen Seitenabruf und Cursor-Schreiben
// ab, wird die letzte Seite einfach erneut geholt.
type CursorMark struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	CursorMark string `json:"cursor_mark" gorm:"size:512;not null"`
	PageNum    int    `json:"page_num" gorm:"not null"`
}

func (CursorMark) TableName() string { return "cursor_marks" }
