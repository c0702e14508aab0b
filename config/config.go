package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
// Der Wert wird einmal beim Start geladen und danach nicht mehr verändert.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort       string `envconfig:"HTTP_PORT" default:"8000"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`

	// Such-Provider: "pubmed" (NCBI E-utilities, db=pmc) oder "europepmc"
	Provider         string        `envconfig:"PROVIDER" default:"pubmed"`
	PubMedBaseURL    string        `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey     string        `envconfig:"PUBMED_API_KEY"`
	EuropePMCBaseURL string        `envconfig:"EUROPEPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	// Mindestabstand zwischen externen Aufrufen, prozessweit geteilt
	RequestsPerSecond float64 `envconfig:"REQUESTS_PER_SECOND" default:"3"`
	MaxIngestLimit    int     `envconfig:"MAX_INGEST_LIMIT" default:"100"`

	// Externer NER-Dienst; leer bedeutet nur Regex-Extraktion
	NEREndpoint string `envconfig:"NER_ENDPOINT"`
	NERAPIKey   string `envconfig:"NER_API_KEY"`

	CronSchedule     string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`
	ScheduledQueries string `envconfig:"SCHEDULED_QUERIES"`
	ScheduledLimit   int    `envconfig:"SCHEDULED_LIMIT" default:"20"`

	// Archiv für rohe Artikel-XMLs (optional)
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" default:"us-east-1"`
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
	// Anzahl aufbewahrter Datenbank-Backups (cmd/backup)
	BackupKeep int `envconfig:"BACKUP_KEEP" default:"4"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Queries liefert die geplanten Suchbegriffe ohne Leereinträge.
func (c *Config) Queries() []string {
	var out []string
	for _, q := range strings.Split(c.ScheduledQueries, ";") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// ArchiveEnabled meldet, ob das S3-Archiv konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != "" && c.ArchiveS3URL != ""
}

// Validate prüft Werte, die envconfig nicht prüfen kann.
func (c *Config) Validate() error {
	switch c.Provider {
	case "pubmed", "europepmc":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("REQUESTS_PER_SECOND must be positive, got %v", c.RequestsPerSecond)
	}
	if c.MaxIngestLimit <= 0 {
		return fmt.Errorf("MAX_INGEST_LIMIT must be positive, got %d", c.MaxIngestLimit)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.ScheduledLimit <= 0 {
		return fmt.Errorf("SCHEDULED_LIMIT must be positive, got %d", c.ScheduledLimit)
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
