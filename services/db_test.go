package services

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"biodata-hand/models"
)

// newTestDB öffnet eine In-Memory-SQLite-Datenbank mit migriertem Schema.
// Jeder Test bekommt über seinen Namen eine eigene Datenbank.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Version{},
		&models.Resource{}, &models.ResourcePublication{},
		&models.Publication{}, &models.PublicationGrant{},
		&models.Accession{}, &models.AccessionPublication{}, &models.AccessionType{},
		&models.ResourceMention{},
		&models.Grant{}, &models.GrantAgency{}, &models.ResourceGrant{},
		&models.CursorMark{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
