package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"biodata-hand/config"
	"biodata-hand/providers/europepmc"
	"biodata-hand/storage"
)

// SearchClient liefert Seiten der Cursor-paginierten Suche.
type SearchClient interface {
	SearchPage(ctx context.Context, query, cursorMark string, pageSize int) (*europepmc.SearchResponse, error)
}

// CrawlService zieht die Cursor-paginierte Europe PMC Suche Seite für Seite
// durch und legt jede Seite als Shard-Datei ab. Nach jeder persistierten
// Seite wird der Folge-Cursor als Checkpoint gespeichert, so dass ein
// abgebrochener Lauf exakt dort fortsetzt.
type CrawlService struct {
	Config  *config.Config
	Fetcher SearchClient
	Cursors *CursorStore
	Shards  storage.ShardStore
	Logger  *zap.Logger
}

// CrawlResult fasst den Ausgang eines Crawl-Laufs zusammen.
type CrawlResult struct {
	Pages    int `json:"pages"`
	Records  int `json:"records"`
	HitCount int `json:"hit_count"`
}

// NewCrawlService erstellt einen neuen CrawlService.
func NewCrawlService(cfg *config.Config, fetcher SearchClient, cursors *CursorStore, shards storage.ShardStore, logger *zap.Logger) *CrawlService {
	return &CrawlService{
		Config:  cfg,
		Fetcher: fetcher,
		Cursors: cursors,
		Shards:  shards,
		Logger:  logger,
	}
}

// Run führt den Crawl für die gegebene Query aus. Ein bereits gespeicherter
// Checkpoint wird automatisch wieder aufgenommen.
func (s *CrawlService) Run(ctx context.Context, query string) (*CrawlResult, error) {
	cursor, pageNum, err := s.Cursors.Latest()
	if err != nil {
		return nil, err
	}
	if cursor == "" {
		cursor = "*"
	}

	log := s.Logger.With(zap.String("query", query))
	log.Info("Starte Crawl", zap.String("cursor", cursor), zap.Int("page", pageNum))

	result := &CrawlResult{}
	totalRecords := 0

	for {
		page, err := s.Fetcher.SearchPage(ctx, query, cursor, s.Config.EPMCPageSize)
		if err != nil {
			return result, err
		}
		result.HitCount = page.HitCount

		if len(page.ResultList.Result) == 0 {
			log.Info("Leere Ergebnisseite, Crawl beendet.", zap.Int("page", pageNum))
			return result, nil
		}

		data, err := json.Marshal(page.ResultList.Result)
		if err != nil {
			return result, err
		}

		key := storage.ShardKey(s.Config.ShardPrefix, pageNum)
		if err := s.Shards.Put(ctx, key, data); err != nil {
			return result, err
		}

		// Checkpoint erst nach erfolgreich persistierter Shard-Datei.
		next := page.NextCursorMark
		if err := s.Cursors.Append(next, pageNum+1); err != nil {
			return result, err
		}

		result.Pages++
		totalRecords += len(page.ResultList.Result)
		result.Records = totalRecords
		log.Info("Seite gespeichert",
			zap.Int("page", pageNum),
			zap.String("shard", key),
			zap.Int("records", len(page.ResultList.Result)))

		if next == "" || next == cursor {
			log.Info("Cursor wiederholt sich, letzte Seite erreicht.", zap.Int("pages", result.Pages))
			return result, nil
		}
		if s.Config.EPMCResultLimit > 0 && totalRecords >= s.Config.EPMCResultLimit {
			log.Info("Ergebnis-Limit erreicht, Crawl beendet.",
				zap.Int("limit", s.Config.EPMCResultLimit),
				zap.Int("records", totalRecords))
			return result, nil
		}

		cursor = next
		pageNum++
	}
}
