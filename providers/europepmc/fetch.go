package europepmc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"biodata-hand/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// FatalAPIError signalisiert einen Client-Fehler (4xx), bei dem ein Retry
// sinnlos ist. Der Crawl wird in diesem Fall abgebrochen.
type FatalAPIError struct {
	StatusCode int
	URL        string
}

func (e *FatalAPIError) Error() string {
	return fmt.Sprintf("europepmc: request failed with status %d: %s", e.StatusCode, e.URL)
}

// Fetcher implementiert den Zugriff auf die Europe PMC REST API.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	limiter    *rate.Limiter
	client     *http.Client
	retryDelay time.Duration
}

// NewFetcher erstellt einen neuen Europe PMC Fetcher mit Rate-Limiting.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:     cfg,
		Logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.EPMCRateLimit), 1),
		client:     httpClient,
		retryDelay: 2 * time.Second,
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "europepmc"
}

// SearchPage ruft eine Seite der Cursor-paginierten Suche ab. Bei
// Server-Fehlern (5xx) und Netzwerkfehlern wird mit exponentiellem Backoff
// erneut versucht, Client-Fehler (4xx) führen sofort zu einem FatalAPIError.
func (f *Fetcher) SearchPage(ctx context.Context, query, cursorMark string, pageSize int) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "json")
	params.Set("resultType", "core")
	params.Set("pageSize", fmt.Sprintf("%d", pageSize))
	params.Set("cursorMark", cursorMark)

	searchURL := fmt.Sprintf("%s/search?%s", strings.TrimRight(f.Config.EPMCBaseURL, "/"), params.Encode())

	body, err := f.getWithRetry(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var searchResponse SearchResponse
	if err := json.Unmarshal(body, &searchResponse); err != nil {
		return nil, fmt.Errorf("europepmc: could not decode search response: %w", err)
	}
	return &searchResponse, nil
}

// DataLinks ruft die Text-Mining Dataset-Links für einen Artikel ab und
// filtert auf per tm_accession gewonnene Dataset-Einträge.
func (f *Fetcher) DataLinks(ctx context.Context, pmid string) ([]DataLink, error) {
	linksURL := fmt.Sprintf("%s/MED/%s/datalinks?format=json&obtainedBy=tm_accession",
		strings.TrimRight(f.Config.EPMCBaseURL, "/"), url.PathEscape(pmid))

	body, err := f.getWithRetry(ctx, linksURL)
	if err != nil {
		return nil, err
	}

	var response DataLinksResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("europepmc: could not decode datalinks response: %w", err)
	}

	var links []DataLink
	for _, category := range response.DataLinkList.Category {
		for _, section := range category.Section {
			for _, link := range section.Linklist.Link {
				if link.ObtainedBy != "tm_accession" {
					continue
				}
				if link.Target.Type.Name != "dataset" {
					continue
				}
				links = append(links, link)
			}
		}
	}
	return links, nil
}

// getWithRetry führt einen GET-Request mit Rate-Limiting und Backoff aus.
func (f *Fetcher) getWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	var lastErr error
	delay := f.retryDelay

	for attempt := 0; attempt <= f.Config.EPMCMaxRetries; attempt++ {
		if attempt > 0 {
			f.Logger.Warn("Wiederhole Europe PMC Request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("europepmc: status %d for %s", resp.StatusCode, requestURL)
			continue
		default:
			return nil, &FatalAPIError{StatusCode: resp.StatusCode, URL: requestURL}
		}
	}

	return nil, fmt.Errorf("europepmc: giving up after %d retries: %w", f.Config.EPMCMaxRetries, lastErr)
}
