package services

import (
	"errors"

	"gorm.io/gorm"

	"biodata-hand/models"
)

// CursorStore verwaltet die Checkpoint-Tabelle für den Crawl. Es wird nie
// überschrieben, jeder Fortschritt wird als neue Zeile angehängt.
type CursorStore struct {
	DB *gorm.DB
}

// NewCursorStore erstellt einen neuen CursorStore.
func NewCursorStore(db *gorm.DB) *CursorStore {
	return &CursorStore{DB: db}
}

// Latest liefert den zuletzt gespeicherten Cursor samt Seitennummer. Ist die
// Tabelle leer, wird ein leerer Cursor mit Seite 0 zurückgegeben.
func (c *CursorStore) Latest() (string, int, error) {
	var mark models.CursorMark
	err := c.DB.Order("id DESC").First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return mark.CursorMark, mark.PageNum, nil
}

// Append hängt einen neuen Checkpoint an. Wird erst NACH dem erfolgreichen
// Persistieren der zugehörigen Shard-Datei aufgerufen.
func (c *CursorStore) Append(cursorMark string, pageNum int) error {
	return c.DB.Create(&models.CursorMark{
		CursorMark: cursorMark,
		PageNum:    pageNum,
	}).Error
}

// Reset leert die Checkpoint-Tabelle für einen frischen Crawl.
func (c *CursorStore) Reset() error {
	return c.DB.Where("1 = 1").Delete(&models.CursorMark{}).Error
}
