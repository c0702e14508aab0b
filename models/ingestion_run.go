package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IngestionRun protokolliert einen Durchlauf der Ingestion-Pipeline.
type IngestionRun struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Query          string         `json:"query" gorm:"type:text;not null"`
	Limit          int            `json:"limit" gorm:"column:run_limit"`
	Found          int            `json:"found"`
	ProcessedCount int            `json:"processed_count"`
	FailedCount    int            `json:"failed_count"`
	Errors         datatypes.JSON `json:"errors"`
	StartedAt      time.Time      `json:"started_at" gorm:"index"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// TableName gibt explizit den Tabellennamen an.
func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
