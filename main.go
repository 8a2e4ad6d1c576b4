package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"biodata-hand/config"
	"biodata-hand/models"
	"biodata-hand/providers/europepmc"
	"biodata-hand/services"
	"biodata-hand/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	crawledPagesCounter  prometheus.Counter
	loadedShardsCounter  prometheus.Counter
	skippedShardsCounter prometheus.Counter
	publicationsCounter  prometheus.Counter
	accessionsCounter    prometheus.Counter
	mentionsCounter      prometheus.Counter
)

func init() {
	crawledPagesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epmc_pages_crawled_total",
		Help: "Total number of Europe PMC result pages written as shards.",
	})
	loadedShardsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shards_loaded_total",
		Help: "Total number of shard files loaded into the database.",
	})
	skippedShardsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shards_skipped_total",
		Help: "Total number of shard files skipped due to errors.",
	})
	publicationsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "publications_loaded_total",
		Help: "Total number of publications upserted.",
	})
	accessionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accessions_loaded_total",
		Help: "Total number of accession links written.",
	})
	mentionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resource_mentions_loaded_total",
		Help: "Total number of resource mentions written.",
	})
	prometheus.MustRegister(crawledPagesCounter, loadedShardsCounter, skippedShardsCounter,
		publicationsCounter, accessionsCounter, mentionsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.Version{},
		&models.Resource{}, &models.ResourcePublication{},
		&models.Publication{}, &models.PublicationGrant{},
		&models.Accession{}, &models.AccessionPublication{}, &models.AccessionType{},
		&models.ResourceMention{},
		&models.Grant{}, &models.GrantAgency{}, &models.ResourceGrant{},
		&models.CursorMark{},
	)

	seedDefaultAccessionTypes(db, logging)

	// Setup Services
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	shards := storage.NewS3ShardStore(s3Client, cfg.ShardS3Bucket)

	fetcher := europepmc.NewFetcher(cfg, logging)
	cursors := services.NewCursorStore(db)
	crawler := services.NewCrawlService(cfg, fetcher, cursors, shards, logging)
	versions := services.NewVersionResolver(db, logging)

	var classifier services.MentionClassifier
	if cfg.ClassifierBaseURL != "" {
		classifier = services.NewHTTPClassifier(cfg, logging)
	} else {
		logging.Warn("Kein Klassifizierer konfiguriert, Mention-Scoring ist deaktiviert.")
	}
	loader := services.NewLoadService(cfg, db, fetcher, shards, versions, classifier, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupResourceRoutes(router, db, loader, versions, logging)
	setupPublicationRoutes(router, db, logging)
	setupAccessionRoutes(router, db, logging)
	setupMentionRoutes(router, db, logging)
	setupAgencyRoutes(router, db, logging)
	setupVersionRoutes(router, db)
	setupPipelineRoutes(router, cfg, crawler, cursors, loader, logging)

	// Setup Cron: nächtlicher Crawl + Load
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		runID := uuid.NewString()
		runLog := logging.With(zap.String("run_id", runID))
		runLog.Info("Running scheduled pipeline job...")

		crawlResult, err := crawler.Run(context.Background(), cfg.EPMCQuery)
		if err != nil {
			runLog.Error("Scheduled crawl failed", zap.Error(err))
			return
		}
		crawledPagesCounter.Add(float64(crawlResult.Pages))

		loadResult, err := loader.Run(context.Background(), runID)
		if err != nil {
			runLog.Error("Scheduled load failed", zap.Error(err))
			return
		}
		recordLoadMetrics(loadResult)
		runLog.Info("Scheduled pipeline completed",
			zap.Int("pages", crawlResult.Pages),
			zap.Int("shards", loadResult.Shards),
			zap.Int("publications", loadResult.Publications))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func recordLoadMetrics(result *services.LoadResult) {
	loadedShardsCounter.Add(float64(result.Shards))
	skippedShardsCounter.Add(float64(result.SkippedShards))
	publicationsCounter.Add(float64(result.Publications))
	accessionsCounter.Add(float64(result.Accessions))
	mentionsCounter.Add(float64(result.Mentions))
}

func setupResourceRoutes(router *gin.Engine, db *gorm.DB, loader *services.LoadService, versions *services.VersionResolver, log *zap.Logger) {
	rg := router.Group("/resources")

	rg.GET("/", func(c *gin.Context) {
		var resources []models.Resource
		if err := db.Where("is_latest = ?", true).Find(&resources).Error; err != nil {
			log.Error("Database query for resources failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, resources)
	})

	rg.POST("/query", func(c *gin.Context) {
		type ResourceQuery struct {
			ShortName string `json:"short_name"`
			IsLatest  *bool  `json:"is_latest"`
			VersionID *uint  `json:"version_id"`
			Limit     int    `json:"limit"`
		}
		var req ResourceQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Resource{})
		if req.ShortName != "" {
			query = query.Where("short_name = ?", req.ShortName)
		}
		if req.IsLatest != nil {
			query = query.Where("is_latest = ?", *req.IsLatest)
		}
		if req.VersionID != nil {
			query = query.Where("version_id = ?", *req.VersionID)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var resources []models.Resource
		if err := query.Order("short_name asc").Find(&resources).Error; err != nil {
			log.Error("Database query for resources failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, resources)
	})

	// Lädt ein Ressourcen-Inventar unter einer neuen Version.
	rg.POST("/load", func(c *gin.Context) {
		var req struct {
			VersionName string                    `json:"version_name" binding:"required"`
			Timestamp   time.Time                 `json:"timestamp" binding:"required"`
			Records     []services.ResourceRecord `json:"records" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		count, err := loader.LoadResources(req.Records, req.VersionName, req.Timestamp)
		if err != nil {
			log.Error("Resource inventory load failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load resources"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"loaded": count})
	})

	rg.POST("/reconcile-latest", func(c *gin.Context) {
		if err := versions.ReconcileAll(); err != nil {
			log.Error("Latest reconciliation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "is_latest markers reconciled"})
	})
}

func setupPublicationRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/publications")

	rg.GET("/:pmid", func(c *gin.Context) {
		pmid := c.Param("pmid")
		var publication models.Publication
		if err := db.Where("pubmed_id = ?", pmid).First(&publication).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "publication not found"})
				return
			}
			log.Error("DB error fetching publication", zap.String("pmid", pmid), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, publication)
	})

	rg.POST("/query", func(c *gin.Context) {
		type PublicationQuery struct {
			ResourceShortName string `json:"resource_short_name"`
			MinCitations      *int   `json:"min_citations"`
			Limit             int    `json:"limit"`
		}
		var req PublicationQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Publication{})
		if req.ResourceShortName != "" {
			// Publikationen, die Daten der Ressource zitieren
			query = query.
				Joins("JOIN accession_publications ap ON ap.publication_id = publications.id").
				Joins("JOIN accessions a ON a.id = ap.accession_id").
				Joins("JOIN resources r ON r.id = a.resource_id").
				Where("r.short_name = ?", req.ResourceShortName).
				Distinct()
		}
		if req.MinCitations != nil {
			query = query.Where("citation_count >= ?", *req.MinCitations)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var publications []models.Publication
		if err := query.Order("citation_count desc").Find(&publications).Error; err != nil {
			log.Error("Database query for publications failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, publications)
	})
}

func setupAccessionRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/accessions")

	rg.POST("/query", func(c *gin.Context) {
		type AccessionQuery struct {
			Accession         string `json:"accession"`
			ResourceShortName string `json:"resource_short_name"`
			VersionID         *uint  `json:"version_id"`
			Limit             int    `json:"limit"`
		}
		var req AccessionQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Accession{})
		if req.Accession != "" {
			query = query.Where("accession = ?", req.Accession)
		}
		if req.ResourceShortName != "" {
			query = query.
				Joins("JOIN resources r ON r.id = accessions.resource_id").
				Where("r.short_name = ?", req.ResourceShortName)
		}
		if req.VersionID != nil {
			query = query.Where("accessions.version_id = ?", *req.VersionID)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var accessions []models.Accession
		if err := query.Order("accessions.id desc").Find(&accessions).Error; err != nil {
			log.Error("Database query for accessions failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, accessions)
	})

	// Pflege der Extraktionsmuster
	tg := router.Group("/accession-types")
	tg.GET("/", func(c *gin.Context) {
		var types []models.AccessionType
		if err := db.Order("priority desc").Find(&types).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, types)
	})
	tg.POST("/", func(c *gin.Context) {
		var t models.AccessionType
		if err := c.ShouldBindJSON(&t); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&t).Error; err != nil {
			log.Error("Failed to create accession type", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create accession type"})
			return
		}
		c.JSON(http.StatusCreated, t)
	})
}

func setupMentionRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/mentions")

	rg.POST("/query", func(c *gin.Context) {
		type MentionQuery struct {
			ResourceShortName string   `json:"resource_short_name"`
			PubMedID          string   `json:"pubmed_id"`
			MinConfidence     *float64 `json:"min_confidence"`
			Limit             int      `json:"limit"`
		}
		var req MentionQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.ResourceMention{})
		if req.ResourceShortName != "" {
			query = query.
				Joins("JOIN resources r ON r.id = resource_mentions.resource_id").
				Where("r.short_name = ?", req.ResourceShortName)
		}
		if req.PubMedID != "" {
			query = query.
				Joins("JOIN publications p ON p.id = resource_mentions.publication_id").
				Where("p.pubmed_id = ?", req.PubMedID)
		}
		if req.MinConfidence != nil {
			query = query.Where("mean_confidence >= ?", *req.MinConfidence)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var mentions []models.ResourceMention
		if err := query.Order("mean_confidence desc").Find(&mentions).Error; err != nil {
			log.Error("Database query for mentions failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, mentions)
	})
}

func setupAgencyRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/agencies")

	rg.GET("/", func(c *gin.Context) {
		var agencies []models.GrantAgency
		if err := db.Order("name asc").Find(&agencies).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, agencies)
	})

	// Pflegt die Selbst-Relationen einer Agentur. Beide Relationen werden vor
	// dem Schreiben auf Zyklen geprüft.
	rg.PATCH("/:id/relations", func(c *gin.Context) {
		id := c.Param("id")
		var agency models.GrantAgency
		if err := db.First(&agency, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "agency not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var req struct {
			ParentAgencyID         *uint `json:"parent_agency_id"`
			RepresentativeAgencyID *uint `json:"representative_agency_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		parentOf := func(agencyID uint) (*uint, error) {
			var a models.GrantAgency
			if err := db.First(&a, agencyID).Error; err != nil {
				return nil, err
			}
			return a.ParentAgencyID, nil
		}
		representativeOf := func(agencyID uint) (*uint, error) {
			var a models.GrantAgency
			if err := db.First(&a, agencyID).Error; err != nil {
				return nil, err
			}
			return a.RepresentativeAgencyID, nil
		}

		updates := map[string]interface{}{}
		if req.ParentAgencyID != nil {
			if err := models.CheckAgencyCycle(agency.ID, req.ParentAgencyID, parentOf); err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			updates["parent_agency_id"] = *req.ParentAgencyID
		}
		if req.RepresentativeAgencyID != nil {
			if err := models.CheckAgencyCycle(agency.ID, req.RepresentativeAgencyID, representativeOf); err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			updates["representative_agency_id"] = *req.RepresentativeAgencyID
		}
		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no updatable fields provided"})
			return
		}

		if err := db.Model(&agency).Updates(updates).Error; err != nil {
			log.Error("Failed to update agency relations", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update agency"})
			return
		}
		c.JSON(http.StatusOK, agency)
	})
}

func setupVersionRoutes(router *gin.Engine, db *gorm.DB) {
	rg := router.Group("/versions")
	rg.GET("/", func(c *gin.Context) {
		var versions []models.Version
		if err := db.Order("timestamp desc").Find(&versions).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, versions)
	})
}

func setupPipelineRoutes(router *gin.Engine, cfg *config.Config, crawler *services.CrawlService, cursors *services.CursorStore, loader *services.LoadService, log *zap.Logger) {
	rg := router.Group("/pipeline")

	rg.POST("/crawl", func(c *gin.Context) {
		var req struct {
			Query string `json:"query"`
		}
		_ = c.ShouldBindJSON(&req)
		query := req.Query
		if query == "" {
			query = cfg.EPMCQuery
		}

		runID := uuid.NewString()
		go func() {
			runLog := log.With(zap.String("run_id", runID))
			result, err := crawler.Run(context.Background(), query)
			if err != nil {
				runLog.Error("Async crawl failed", zap.Error(err))
				return
			}
			crawledPagesCounter.Add(float64(result.Pages))
			runLog.Info("Async crawl completed",
				zap.Int("pages", result.Pages), zap.Int("records", result.Records))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Crawl triggered.", "run_id": runID})
	})

	rg.POST("/crawl/reset", func(c *gin.Context) {
		if err := cursors.Reset(); err != nil {
			log.Error("Cursor reset failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset cursor"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Cursor tracking cleared."})
	})

	rg.POST("/load", func(c *gin.Context) {
		runID := uuid.NewString()
		go func() {
			runLog := log.With(zap.String("run_id", runID))
			result, err := loader.Run(context.Background(), runID)
			if err != nil {
				runLog.Error("Async load failed", zap.Error(err))
				return
			}
			recordLoadMetrics(result)
			runLog.Info("Async load completed",
				zap.Int("shards", result.Shards),
				zap.Int("skipped", result.SkippedShards),
				zap.Int("publications", result.Publications),
				zap.Int("accessions", result.Accessions),
				zap.Int("mentions", result.Mentions))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Load triggered.", "run_id": runID})
	})
}

func seedDefaultAccessionTypes(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.AccessionType{}).Count(&count)
	if count > 0 {
		return
	}
	types := []models.AccessionType{
		{Name: "pdb", ResourceShortName: "pdb", Pattern: `\b[1-9][A-Za-z0-9]{3}\b`, Checksum: "pdb", Priority: 10},
		{Name: "emdb", ResourceShortName: "emdb", Pattern: `\bEMD-\d{4,5}\b`, Priority: 50},
		{Name: "uniprot", ResourceShortName: "uniprot", Pattern: `\b[OPQ][0-9][A-Z0-9]{3}[0-9]\b`, Priority: 40},
		{Name: "ena_run", ResourceShortName: "ena", Pattern: `\b[A-Z]{3}\d{6,9}\b`, Priority: 20},
		{Name: "geo_series", ResourceShortName: "geo", Pattern: `\bGSE\d{2,6}\b`, Priority: 40},
		{Name: "bioproject", ResourceShortName: "bioproject", Pattern: `\bPRJ[EDN][A-Z]\d+\b`, Priority: 50},
		{Name: "arrayexpress", ResourceShortName: "arrayexpress", Pattern: `\bE-[A-Z]{4}-\d+\b`, Priority: 50},
		{Name: "metabolights", ResourceShortName: "metabolights", Pattern: `\bMTBLS\d+\b`, Priority: 50},
		{Name: "pfam", ResourceShortName: "pfam", Pattern: `\bPF\d{5}\b`, Priority: 40},
		{Name: "refsnp", ResourceShortName: "refsnp", Pattern: `\brs\d{4,9}\b`, Priority: 30},
		{Name: "orcid", ResourceShortName: "orcid", Pattern: `\b\d{4}-\d{4}-\d{4}-\d{3}[\dX]\b`, Checksum: "orcid", Priority: 60},
	}
	if err := db.Create(&types).Error; err != nil {
		logger.Warn("Failed to seed default accession types", zap.Error(err))
	} else {
		logger.Info("Default accession types seeded.")
	}
}
