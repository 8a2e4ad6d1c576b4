package models

import (
	"time"
)

// Accession ist eine Daten-Zitation: ein in einer Publikation veröffentlichter
// Identifier, der Daten einer Ressource referenziert. Derselbe Accession-String
// darf unter verschiedenen Ressourcen oder Versionen erneut auftauchen, aber
// nicht doppelt innerhalb eines (version, resource)-Paars.
type Accession struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Accession  string `json:"accession" gorm:"index:idx_accessions_natural,unique;size:255;not null"`
	VersionID  uint   `json:"version_id" gorm:"index:idx_accessions_natural,unique;not null"`
	ResourceID uint   `json:"resource_id" gorm:"index:idx_accessions_natural,unique;not null"`

	Version  Version  `json:"-"`
	Resource Resource `json:"-"`

	URL      string `json:"url,omitempty" gorm:"size:1024"`
	Metadata []byte `json:"metadata,omitempty" gorm:"type:jsonb"`
}

func (Accession) TableName() string { return "accessions" }

// AccessionPublication verknüpft eine Accession mit einer Publikation.
// Der Link zeigt auf die vollständige Accession-Zeile (nicht nur den String),
// damit er nie auf ein mehrdeutiges (version, resource)-Paar verweisen kann.
type AccessionPublication struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	AccessionID   uint `json:"accession_id" gorm:"index:idx_accession_publication,unique;not null"`
	PublicationID uint `json:"publication_id" gorm:"index:idx_accession_publication,unique;not null"`

	Accession   Accession   `json:"-"`
	Publication Publication `json:"-"`
}

func (AccessionPublication) TableName() string { return "accession_publications" }

// AccessionType definiert ein Extraktionsmuster: Regex, Validierungsregel und
// die Ressource, deren Daten der Identifier zitiert. Wird beim Start geseedet
// und kann über die API gepflegt werden.
type AccessionType struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"` // z.B. "pdb", "ega"

	ResourceShortName string `json:"resource_short_name" gorm:"index;not null"`
	Pattern           string `json:"pattern" gorm:"type:text;not null"`
	Checksum          string `json:"checksum,omitempty"` // Name der Validierungsregel, leer = keine
	Priority          int    `json:"priority"`           // höher gewinnt bei überlappenden Treffern
}

func (AccessionType) TableName() string { return "accession_types" }
