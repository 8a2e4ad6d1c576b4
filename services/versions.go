package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"biodata-hand/models"
)

// VersionResolver verwaltet Versions-Zeilen und den is_latest-Marker auf den
// Ressourcen. Pro short_name darf höchstens eine Zeile als aktuell markiert
// sein.
type VersionResolver struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewVersionResolver erstellt einen neuen VersionResolver.
func NewVersionResolver(db *gorm.DB, logger *zap.Logger) *VersionResolver {
	return &VersionResolver{DB: db, Logger: logger}
}

// EnsureVersion liefert die Versions-Zeile zu (name, timestamp) und legt sie
// bei Bedarf an. Wiederholte Läufe desselben Imports landen so auf derselben
// Version.
func (v *VersionResolver) EnsureVersion(name string, timestamp time.Time, user string, metadata []byte) (*models.Version, error) {
	version := models.Version{
		Name:      name,
		Timestamp: timestamp,
		User:      user,
		Metadata:  metadata,
	}
	err := v.DB.Where(models.Version{Name: name, Timestamp: timestamp}).
		FirstOrCreate(&version).Error
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// ResolveLatest setzt den is_latest-Marker für die übergebenen short_names
// neu. Die Auflösung läuft in zwei Phasen innerhalb einer Transaktion: erst
// werden alle Marker der betroffenen Namen gelöscht, dann gewinnt pro Name
// die Zeile mit dem jüngsten Versions-Timestamp, bei Gleichstand die mit der
// höheren Versions-ID.
func (v *VersionResolver) ResolveLatest(db *gorm.DB, shortNames []string) error {
	if len(shortNames) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE resources SET is_latest = ? WHERE short_name IN ?`,
			false, shortNames,
		).Error; err != nil {
			return err
		}
		return tx.Exec(
			`UPDATE resources SET is_latest = ?
			 WHERE short_name IN ?
			   AND id = (
			     SELECT r2.id FROM resources r2
			     JOIN versions v2 ON v2.id = r2.version_id
			     WHERE r2.short_name = resources.short_name
			     ORDER BY v2.timestamp DESC, v2.id DESC
			     LIMIT 1
			   )`,
			true, shortNames,
		).Error
	})
}

// ReconcileAll läuft über den gesamten Bestand und repariert fehlende oder
// doppelte Marker. Gedacht als Wartungsoperation nach manuellen Eingriffen.
func (v *VersionResolver) ReconcileAll() error {
	v.Logger.Info("Starte vollständige is_latest-Reparatur.")
	return v.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`UPDATE resources SET is_latest = ?`, false).Error; err != nil {
			return err
		}
		return tx.Exec(
			`UPDATE resources SET is_latest = ?
			 WHERE id = (
			     SELECT r2.id FROM resources r2
			     JOIN versions v2 ON v2.id = r2.version_id
			     WHERE r2.short_name = resources.short_name
			     ORDER BY v2.timestamp DESC, v2.id DESC
			     LIMIT 1
			   )`,
			true,
		).Error
	})
}

// LatestResources liefert alle als aktuell markierten Ressourcen. Diese
// Zeilen liefern die Aliase für das Mention-Scoring.
func (v *VersionResolver) LatestResources() ([]models.Resource, error) {
	var resources []models.Resource
	err := v.DB.Where("is_latest = ?", true).Find(&resources).Error
	return resources, err
}
