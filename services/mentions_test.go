package services

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biodata-hand/models"
)

// stubClassifier liefert vorgegebene Scores, der Reihe nach pro Snippet.
type stubClassifier struct {
	scores []float64
	calls  int
}

func (s *stubClassifier) Score(ctx context.Context, resourceName string, snippets []string) ([]float64, error) {
	s.calls++
	out := make([]float64, len(snippets))
	for i := range snippets {
		out[i] = s.scores[i%len(s.scores)]
	}
	return out, nil
}

func testResources() []models.Resource {
	return []models.Resource{
		{ID: 1, ShortName: "pdb", CommonName: "PDB", FullName: "Protein Data Bank"},
		{ID: 2, ShortName: "uniprot", CommonName: "UniProt"},
	}
}

func TestScanCountsOccurrencesAndMeansConfidence(t *testing.T) {
	classifier := &stubClassifier{scores: []float64{0.9, 0.5, 0.7}}
	s := NewMentionScorer(testResources(), classifier, zap.NewNop())

	text := "We used UniProt for annotation. UniProt entries were mapped, and UniProt was queried again."
	hits, err := s.Scan(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "uniprot", hits[0].ResourceShortName)
	assert.Equal(t, "uniprot", hits[0].MatchedAlias)
	assert.Equal(t, 3, hits[0].MatchCount)
	assert.InDelta(t, 0.7, hits[0].MeanConfidence, 1e-9)
}

func TestScanCountsOccurrencesSeparatedBySingleCharacter(t *testing.T) {
	classifier := &stubClassifier{scores: []float64{0.6}}
	s := NewMentionScorer(testResources(), classifier, zap.NewNop())

	// Ein einzelnes Leerzeichen begrenzt beide benachbarten Vorkommen.
	hits, err := s.Scan(context.Background(), "uniprot uniprot uniprot")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 3, hits[0].MatchCount)

	// Direkt aneinander geklebt zählt dagegen nichts.
	hits, err = s.Scan(context.Background(), "uniprotuniprot")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScanReturnsNothingWithoutMatches(t *testing.T) {
	classifier := &stubClassifier{scores: []float64{1}}
	s := NewMentionScorer(testResources(), classifier, zap.NewNop())

	hits, err := s.Scan(context.Background(), "No databases were harmed in this study.")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, classifier.calls)
}

func TestScanRespectsWordBoundaries(t *testing.T) {
	classifier := &stubClassifier{scores: []float64{1}}
	s := NewMentionScorer(testResources(), classifier, zap.NewNop())

	// "pdbx" darf nicht als "pdb" zählen, "(PDB)" schon.
	hits, err := s.Scan(context.Background(), "The pdbx format differs from the archive (PDB).")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].MatchCount)
}

func TestScanNormalizesDashesAndWhitespace(t *testing.T) {
	resources := []models.Resource{
		{ID: 3, ShortName: "e-utils", CommonName: "E-Utils"},
	}
	classifier := &stubClassifier{scores: []float64{1}}
	s := NewMentionScorer(resources, classifier, zap.NewNop())

	// Gedankenstrich statt Bindestrich im Text
	hits, err := s.Scan(context.Background(), "Queried via E–Utils during analysis.")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "e-utils", hits[0].ResourceShortName)
}

func TestScanSuppressesSubstringMatches(t *testing.T) {
	resources := []models.Resource{
		{ID: 1, ShortName: "pdb", FullName: "Protein Data Bank"},
		{ID: 9, ShortName: "databank", CommonName: "Data Bank"},
	}
	classifier := &stubClassifier{scores: []float64{1}}
	s := NewMentionScorer(resources, classifier, zap.NewNop())

	hits, err := s.Scan(context.Background(), "Structures come from the Protein Data Bank.")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "pdb", hits[0].ResourceShortName)
	assert.Equal(t, "Protein Data Bank", hits[0].MatchedAlias)
}

func TestScanIsCaseInsensitive(t *testing.T) {
	classifier := &stubClassifier{scores: []float64{1}}
	s := NewMentionScorer(testResources(), classifier, zap.NewNop())

	hits, err := s.Scan(context.Background(), "data from UNIPROT and uniprot")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].MatchCount)
}

// emptyClassifier liefert unabhängig von den Snippets keine Scores.
type emptyClassifier struct{}

func (emptyClassifier) Score(ctx context.Context, resourceName string, snippets []string) ([]float64, error) {
	return nil, nil
}

func TestScanRejectsScoreCountMismatch(t *testing.T) {
	s := NewMentionScorer(testResources(), emptyClassifier{}, zap.NewNop())

	_, err := s.Scan(context.Background(), "We queried UniProt.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scores")
}

func TestSnippetKeepsRuneBoundaries(t *testing.T) {
	text := strings.Repeat("€", 100) + "foo" + strings.Repeat("€", 100)
	s := snippet(text, 300, 303)
	assert.True(t, utf8.ValidString(s))
	assert.Contains(t, s, "foo")
}

func TestAliasPatternOptionalDots(t *testing.T) {
	resources := []models.Resource{
		{ID: 4, ShortName: "eutils", CommonName: "N.C.B.I."},
	}
	classifier := &stubClassifier{scores: []float64{1}}
	s := NewMentionScorer(resources, classifier, zap.NewNop())

	hits, err := s.Scan(context.Background(), "Sequences were taken from NCBI yesterday.")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "N.C.B.I.", hits[0].MatchedAlias)
}
