package models

import (
	"time"
)

// ResourceMention ist der Beleg, dass der Text einer Publikation einen Alias
// einer Ressource erwähnt. Schlüssel ist (publication, resource, matched_alias):
// mehrere Aliase derselben Ressource ergeben mehrere Zeilen. Ein erneuter Lauf
// aktualisiert Zähler, Konfidenz und besitzende Version in-place.
type ResourceMention struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PublicationID uint   `json:"publication_id" gorm:"index:idx_mentions_natural,unique;not null"`
	ResourceID    uint   `json:"resource_id" gorm:"index:idx_mentions_natural,unique;not null"`
	MatchedAlias  string `json:"matched_alias" gorm:"index:idx_mentions_natural,unique;size:255;not null"`

	VersionID uint `json:"version_id" gorm:"not null"`

	MatchCount     int     `json:"match_count"`
	MeanConfidence float64 `json:"mean_confidence"` // in [0,1]

	Publication Publication `json:"-"`
	Resource    Resource    `json:"-"`
	Version     Version     `json:"-"`
}

func (ResourceMention) TableName() string { return "resource_mentions" }
