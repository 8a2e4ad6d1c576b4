package models

import (
	"fmt"
)

// Grant repräsentiert einen Förder-Grant mit externer ID und Agentur.
type Grant struct {
	ID uint `json:"id" gorm:"primaryKey"`

	ExtGrantID    string `json:"ext_grant_id" gorm:"index:idx_grants_natural,unique;size:255;not null"`
	GrantAgencyID uint   `json:"grant_agency_id" gorm:"index:idx_grants_natural,unique;not null"`

	GrantAgency GrantAgency `json:"grant_agency,omitempty"`
}

func (Grant) TableName() string { return "grants" }

// GrantAgency ist eine Förderagentur. Agenturen bilden zwei unabhängige
// Relationen über sich selbst: eine Förderhierarchie (parent) und eine
// Gruppierung auf eine kanonische Agentur (representative). Beide müssen
// azyklisch bleiben - das Schema kann das nicht ausdrücken, deshalb prüft
// CheckAgencyCycle vor dem Schreiben.
type GrantAgency struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	Name    string `json:"name" gorm:"uniqueIndex;not null"`
	Country string `json:"country,omitempty"`

	ParentAgencyID         *uint `json:"parent_agency_id,omitempty"`
	RepresentativeAgencyID *uint `json:"representative_agency_id,omitempty"`
}

func (GrantAgency) TableName() string { return "grant_agencies" }

// ResourceGrant verknüpft eine Ressource mit einem Grant.
type ResourceGrant struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	ResourceID uint `json:"resource_id" gorm:"index:idx_resource_grant,unique;not null"`
	GrantID    uint `json:"grant_id" gorm:"index:idx_resource_grant,unique;not null"`

	Resource Resource `json:"-"`
	Grant    Grant    `json:"-"`
}

func (ResourceGrant) TableName() string { return "resource_grants" }

// CheckAgencyCycle prüft, ob die Agentur mit der gegebenen ID über die
// gelieferte Kanten-Funktion (parent oder representative) einen Zyklus
// erreichen würde, wenn sie newTarget als Ziel bekommt.
func CheckAgencyCycle(id uint, newTarget *uint, next func(uint) (*uint, error)) error {
	if newTarget == nil {
		return nil
	}
	seen := map[uint]bool{id: true}
	current := *newTarget
	for {
		if seen[current] {
			return fmt.Errorf("agency relation cycle detected at agency %d", current)
		}
		seen[current] = true
		target, err := next(current)
		if err != nil {
			return err
		}
		if target == nil {
			return nil
		}
		current = *target
	}
}
