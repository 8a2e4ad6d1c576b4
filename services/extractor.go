package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"biodata-hand/models"
)

// ChecksumFunc prüft eine gefundene Accession auf formale Gültigkeit.
type ChecksumFunc func(accession string) bool

// checksumRegistry bildet die in AccessionType.Checksum hinterlegten Namen
// auf ihre Prüffunktionen ab. Ein leerer Name bedeutet: keine Prüfung.
var checksumRegistry = map[string]ChecksumFunc{
	"orcid": orcidChecksum,
	"pdb":   pdbChecksum,
}

// orcidChecksum prüft die ISO 7064 Mod 11-2 Prüfziffer einer ORCID iD.
func orcidChecksum(accession string) bool {
	digits := strings.ReplaceAll(accession, "-", "")
	if len(digits) != 16 {
		return false
	}
	total := 0
	for _, r := range digits[:15] {
		if r < '0' || r > '9' {
			return false
		}
		total = (total + int(r-'0')) * 2
	}
	remainder := total % 11
	result := (12 - remainder) % 11
	check := byte('0' + result)
	if result == 10 {
		check = 'X'
	}
	return digits[15] == check
}

// pdbChecksum prüft die Grundform einer PDB-ID: vier Zeichen, erste Stelle
// eine Ziffer von 1 bis 9.
func pdbChecksum(accession string) bool {
	if len(accession) != 4 {
		return false
	}
	return accession[0] >= '1' && accession[0] <= '9'
}

// ExtractedAccession ist ein validierter Treffer aus dem Publikationstext.
type ExtractedAccession struct {
	Accession         string
	ResourceShortName string
	TypeName          string
	Start             int
	End               int
	Priority          int
}

// compiledType ist ein AccessionType mit kompiliertem Pattern.
type compiledType struct {
	model    models.AccessionType
	re       *regexp.Regexp
	checksum ChecksumFunc
}

// AccessionExtractor findet Accessions in Publikationstexten anhand der in
// der Datenbank hinterlegten Typen. Ein Typ mit ungültigem Pattern wird beim
// Kompilieren übersprungen und gemeldet, die restlichen Typen laufen weiter.
type AccessionExtractor struct {
	types  []compiledType
	Logger *zap.Logger
}

// NewAccessionExtractor kompiliert die Patterns aller übergebenen Typen.
func NewAccessionExtractor(types []models.AccessionType, logger *zap.Logger) *AccessionExtractor {
	e := &AccessionExtractor{Logger: logger}
	for _, t := range types {
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			logger.Warn("Ungültiges Accession-Pattern, Typ wird übersprungen",
				zap.String("type", t.Name), zap.Error(err))
			continue
		}
		check := checksumRegistry[t.Checksum]
		if t.Checksum != "" && check == nil {
			logger.Warn("Unbekannte Checksum-Funktion, Typ wird übersprungen",
				zap.String("type", t.Name), zap.String("checksum", t.Checksum))
			continue
		}
		e.types = append(e.types, compiledType{model: t, re: re, checksum: check})
	}
	return e
}

// Extract liefert alle validierten, de-duplizierten Accessions eines Textes.
// Überlappende Treffer verschiedener Typen werden zugunsten des Typs mit der
// höheren Priorität aufgelöst, bei Gleichstand gewinnt der längere Treffer.
func (e *AccessionExtractor) Extract(text string) []ExtractedAccession {
	var hits []ExtractedAccession
	for _, ct := range e.types {
		for _, span := range ct.re.FindAllStringIndex(text, -1) {
			accession := text[span[0]:span[1]]
			if ct.checksum != nil && !ct.checksum(accession) {
				continue
			}
			hits = append(hits, ExtractedAccession{
				Accession:         accession,
				ResourceShortName: ct.model.ResourceShortName,
				TypeName:          ct.model.Name,
				Start:             span[0],
				End:               span[1],
				Priority:          ct.model.Priority,
			})
		}
	}

	hits = resolveOverlaps(hits)

	// De-Duplizierung pro (Accession, Ressource)
	seen := make(map[string]bool)
	var unique []ExtractedAccession
	for _, h := range hits {
		key := fmt.Sprintf("%s|%s", h.Accession, h.ResourceShortName)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, h)
	}
	return unique
}

// resolveOverlaps behält bei überlappenden Spans nur den spezifischeren
// Treffer.
func resolveOverlaps(hits []ExtractedAccession) []ExtractedAccession {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority > hits[j].Priority
		}
		li, lj := hits[i].End-hits[i].Start, hits[j].End-hits[j].Start
		if li != lj {
			return li > lj
		}
		return hits[i].Start < hits[j].Start
	})

	var kept []ExtractedAccession
	for _, h := range hits {
		overlaps := false
		for _, k := range kept {
			if h.Start < k.End && k.Start < h.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, h)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
