package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"biodata-hand/models"
)

// snippetWindow ist die Anzahl Zeichen Kontext vor und nach einem Treffer,
// die an den Klassifizierer geschickt werden.
const snippetWindow = 200

// MentionHit ist das Ergebnis des Scans für ein (Ressource, Alias)-Paar.
type MentionHit struct {
	ResourceID        uint
	ResourceShortName string
	MatchedAlias      string
	MatchCount        int
	MeanConfidence    float64
}

type compiledAlias struct {
	resourceID uint
	shortName  string
	alias      string
	re         *regexp.Regexp
}

// MentionScorer durchsucht Publikationstexte nach Namen der bekannten
// Ressourcen und bewertet die Fundstellen über den Klassifizierer. Als
// Aliase dienen Kurz-, Trivial- und Vollname der jeweils aktuellen
// Ressourcen-Zeile.
type MentionScorer struct {
	aliases    []compiledAlias
	Classifier MentionClassifier
	Logger     *zap.Logger
}

// NewMentionScorer kompiliert die Alias-Patterns aller übergebenen
// Ressourcen. Aliase mit weniger als drei Zeichen werden ignoriert, sie
// produzieren fast nur Rauschen.
func NewMentionScorer(resources []models.Resource, classifier MentionClassifier, logger *zap.Logger) *MentionScorer {
	s := &MentionScorer{Classifier: classifier, Logger: logger}
	for _, r := range resources {
		seen := make(map[string]bool)
		for _, alias := range []string{r.ShortName, r.CommonName, r.FullName} {
			alias = strings.TrimSpace(alias)
			if len(alias) < 3 {
				continue
			}
			lower := strings.ToLower(alias)
			if seen[lower] {
				continue
			}
			seen[lower] = true

			re, err := regexp.Compile(aliasPattern(alias))
			if err != nil {
				logger.Warn("Alias konnte nicht kompiliert werden",
					zap.String("resource", r.ShortName), zap.String("alias", alias), zap.Error(err))
				continue
			}
			s.aliases = append(s.aliases, compiledAlias{
				resourceID: r.ID,
				shortName:  r.ShortName,
				alias:      alias,
				re:         re,
			})
		}
	}
	return s
}

// aliasPattern baut das Suchpattern für einen Alias:
//   - Leerzeichen matchen beliebigen Whitespace
//   - alle Bindestrich-Varianten sind austauschbar
//   - Punkte sind optional
//   - links und rechts muss ein Nicht-Buchstabe oder der Textrand stehen
func aliasPattern(alias string) string {
	var b strings.Builder
	for _, r := range alias {
		switch {
		case r == ' ':
			b.WriteString(`\s+`)
		case r == '-' || r == '‐' || r == '‑' || r == '–' || r == '—':
			b.WriteString("[-‐‑–—]")
		case r == '.':
			b.WriteString(`\.?`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return `(?i)(^|[^A-Za-z])(` + b.String() + `)([^A-Za-z]|$)`
}

type aliasMatch struct {
	alias compiledAlias
	start int
	end   int
}

// Scan durchsucht den Text und liefert pro (Ressource, Alias) einen Hit mit
// Trefferzahl und mittlerer Konfidenz. Aliase ohne Treffer tauchen im
// Ergebnis nicht auf.
func (s *MentionScorer) Scan(ctx context.Context, text string) ([]MentionHit, error) {
	var matches []aliasMatch
	for _, ca := range s.aliases {
		matches = append(matches, scanAlias(ca, text)...)
	}

	matches = removeSubstringMatches(matches)
	if len(matches) == 0 {
		return nil, nil
	}

	grouped := make(map[string][]aliasMatch)
	var order []string
	for _, m := range matches {
		key := fmt.Sprintf("%d|%s", m.alias.resourceID, strings.ToLower(m.alias.alias))
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], m)
	}

	var hits []MentionHit
	for _, key := range order {
		group := grouped[key]
		snippets := make([]string, 0, len(group))
		for _, m := range group {
			snippets = append(snippets, snippet(text, m.start, m.end))
		}

		scores, err := s.Classifier.Score(ctx, group[0].alias.shortName, snippets)
		if err != nil {
			return nil, fmt.Errorf("mention scoring for %s failed: %w", group[0].alias.shortName, err)
		}
		if len(scores) != len(snippets) {
			return nil, fmt.Errorf("mention scoring for %s returned %d scores for %d snippets",
				group[0].alias.shortName, len(scores), len(snippets))
		}
		sum := 0.0
		for _, sc := range scores {
			sum += sc
		}

		hits = append(hits, MentionHit{
			ResourceID:        group[0].alias.resourceID,
			ResourceShortName: group[0].alias.shortName,
			MatchedAlias:      group[0].alias.alias,
			MatchCount:        len(group),
			MeanConfidence:    sum / float64(len(scores)),
		})
	}
	return hits, nil
}

// scanAlias sammelt alle Vorkommen eines Alias. Die Begrenzungsgruppen des
// Patterns konsumieren das Trennzeichen, deshalb wird nach jedem Treffer nur
// bis zum Ende des Alias selbst (Gruppe 2) vorgerückt: ein einzelnes
// Trennzeichen zwischen zwei Vorkommen dient dann beiden als Begrenzung.
func scanAlias(ca compiledAlias, text string) []aliasMatch {
	var matches []aliasMatch
	pos := 0
	for pos < len(text) {
		idx := ca.re.FindStringSubmatchIndex(text[pos:])
		if idx == nil {
			break
		}
		start, end := pos+idx[4], pos+idx[5]
		// Der ^-Zweig der linken Begrenzung gilt im Teilstring auch mitten
		// im Text. Dort zählt er nur nach einem Nicht-Buchstaben.
		if start == pos && pos > 0 && isASCIILetter(text[pos-1]) {
			pos = start + 1
			continue
		}
		if end <= start {
			pos = start + 1
			continue
		}
		matches = append(matches, aliasMatch{alias: ca, start: start, end: end})
		pos = end
	}
	return matches
}

func isASCIILetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// removeSubstringMatches verwirft Treffer, die vollständig in einem Treffer
// eines anderen Alias enthalten sind. "Protein Data Bank" schluckt so das
// darin enthaltene "Data Bank".
func removeSubstringMatches(matches []aliasMatch) []aliasMatch {
	var kept []aliasMatch
	for i, m := range matches {
		contained := false
		for j, other := range matches {
			if i == j || m.alias.alias == other.alias.alias {
				continue
			}
			inside := other.start <= m.start && m.end <= other.end
			larger := other.end-other.start > m.end-m.start
			if inside && larger {
				contained = true
				break
			}
		}
		if !contained {
			kept = append(kept, m)
		}
	}
	return kept
}

// snippet schneidet den Kontext um einen Treffer aus dem Text. Die
// Fensterränder werden auf Rune-Grenzen zurückgesetzt, damit kein Multibyte-
// Zeichen zerschnitten wird.
func snippet(text string, start, end int) string {
	from := start - snippetWindow
	if from < 0 {
		from = 0
	}
	to := end + snippetWindow
	if to > len(text) {
		to = len(text)
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return text[from:to]
}
