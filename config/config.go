package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Europe PMC Suche
	EPMCBaseURL     string  `envconfig:"EPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest"`
	EPMCPageSize    int     `envconfig:"EPMC_PAGE_SIZE" default:"1000"`
	EPMCResultLimit int     `envconfig:"EPMC_RESULT_LIMIT" default:"0"`
	EPMCRateLimit   float64 `envconfig:"EPMC_RATE_LIMIT" default:"5"`
	EPMCMaxRetries  int     `envconfig:"EPMC_MAX_RETRIES" default:"5"`
	EPMCQuery       string  `envconfig:"EPMC_QUERY" default:"(ACCESSION_TYPE:*) AND (SRC:MED)"`

	// Prefix, unter dem die Crawl-Shards im Bucket abgelegt werden
	ShardPrefix string `envconfig:"SHARD_PREFIX" default:"epmc"`

	// Klassifizierer-Service für das Mention-Scoring
	ClassifierBaseURL string `envconfig:"CLASSIFIER_BASE_URL"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 2 * * *"`

	// Versionsinfo für den aktuellen Pipeline-Lauf
	VersionName string `envconfig:"VERSION_NAME" default:"epmc accession loading"`
	VersionUser string `envconfig:"VERSION_USER" default:"biodata-hand"`

	ShardS3Key    string `envconfig:"SHARD_S3_KEY" required:"true"`
	ShardS3Secret string `envconfig:"SHARD_S3_SECRET" required:"true"`
	ShardS3URL    string `envconfig:"SHARD_S3_URL" required:"true"`
	ShardS3Region string `envconfig:"SHARD_S3_REGION" required:"true"`
	ShardS3Bucket string `envconfig:"SHARD_S3_BUCKET" required:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
