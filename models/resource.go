package models

import (
	"time"
)

// Resource repräsentiert eine Biodata-Ressource in einer bestimmten Version.
// Natürlicher Schlüssel ist (short_name, url, version_id); pro short_name darf
// über alle Versionen hinweg genau eine Zeile is_latest tragen.
type Resource struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShortName  string `json:"short_name" gorm:"index:idx_resources_natural,unique;size:255;not null"`
	CommonName string `json:"common_name,omitempty"`
	FullName   string `json:"full_name,omitempty"`
	URL        string `json:"url" gorm:"index:idx_resources_natural,unique;size:512;default:''"`

	VersionID uint    `json:"version_id" gorm:"index:idx_resources_natural,unique;not null"`
	Version   Version `json:"version,omitempty"`

	IsGCBR          bool `json:"is_gcbr"`
	CommercialTerms bool `json:"commercial_terms"`
	IsLatest        bool `json:"is_latest" gorm:"index"`

	// Wahrscheinlichkeiten aus der Namensvorhersage etc.
	PredictionMetadata []byte `json:"prediction_metadata,omitempty" gorm:"type:jsonb"`
}

func (Resource) TableName() string { return "resources" }

// ResourcePublication verknüpft eine Ressource mit einer Publikation, die sie
// beschreibt (Inventar-Link, keine bloße Zitation).
type ResourcePublication struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	ResourceID    uint `json:"resource_id" gorm:"index:idx_resource_publication,unique;not null"`
	PublicationID uint `json:"publication_id" gorm:"index:idx_resource_publication,unique;not null"`

	Resource    Resource    `json:"-"`
	Publication Publication `json:"-"`
}

func (ResourcePublication) TableName() string { return "resource_publications" }
