package models

import (
	"time"
)

// Publication repräsentiert einen bibliografischen Datensatz aus Europe PMC.
// Publikationen werden global über die PubMed-ID dedupliziert - unabhängig
// davon, welcher Lauf sie zuerst gesehen hat.
type Publication struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PubMedID string  `json:"pubmed_id" gorm:"column:pubmed_id;uniqueIndex;not null"`
	PMCID    *string `json:"pmc_id,omitempty" gorm:"column:pmc_id;uniqueIndex"`

	Title           string     `json:"title"`
	Authors         string     `json:"authors,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`

	// ; -separierte Listen, Reihenfolge erhalten, Duplikate entfernt
	Affiliation          string `json:"affiliation,omitempty" gorm:"type:text"`
	AffiliationCountries string `json:"affiliation_countries,omitempty"`
	Keywords             string `json:"keywords,omitempty" gorm:"type:text"`

	CitationCount int    `json:"citation_count"`
	ContactEmail  string `json:"contact_email,omitempty"`
}

func (Publication) TableName() string { return "publications" }

// PublicationGrant verknüpft eine Publikation mit einem Grant.
type PublicationGrant struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	PublicationID uint `json:"publication_id" gorm:"index:idx_publication_grant,unique;not null"`
	GrantID       uint `json:"grant_id" gorm:"index:idx_publication_grant,unique;not null"`

	Publication Publication `json:"-"`
	Grant       Grant       `json:"-"`
}

func (PublicationGrant) TableName() string { return "publication_grants" }
