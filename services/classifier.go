package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"biodata-hand/config"
)

// MentionClassifier bewertet Textstellen, an denen eine Ressource erwähnt
// wird, mit einer Konfidenz in [0, 1].
type MentionClassifier interface {
	Score(ctx context.Context, resourceName string, snippets []string) ([]float64, error)
}

var classifierClient = &http.Client{Timeout: 120 * time.Second}

// HTTPClassifier spricht den externen Klassifizierer-Service an.
type HTTPClassifier struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewHTTPClassifier erstellt einen neuen Klassifizierer-Client.
func NewHTTPClassifier(cfg *config.Config, logger *zap.Logger) *HTTPClassifier {
	return &HTTPClassifier{Config: cfg, Logger: logger}
}

type classifyRequest struct {
	Resource string   `json:"resource"`
	Snippets []string `json:"snippets"`
}

type classifyResponse struct {
	Scores []float64 `json:"scores"`
}

// Score schickt die Textstellen an den Service und liefert pro Stelle eine
// Konfidenz zurück. Werte außerhalb von [0, 1] werden abgeschnitten.
func (c *HTTPClassifier) Score(ctx context.Context, resourceName string, snippets []string) ([]float64, error) {
	payload, err := json.Marshal(classifyRequest{Resource: resourceName, Snippets: snippets})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.Config.ClassifierBaseURL, "/") + "/classify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := classifierClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier: unexpected status %d", resp.StatusCode)
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Scores) != len(snippets) {
		return nil, fmt.Errorf("classifier: got %d scores for %d snippets", len(result.Scores), len(snippets))
	}

	for i, s := range result.Scores {
		if s < 0 {
			result.Scores[i] = 0
		}
		if s > 1 {
			result.Scores[i] = 1
		}
	}
	return result.Scores, nil
}
