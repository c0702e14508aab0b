package models

import (
	"time"
)

// Citation modelliert eine gerichtete Kante: Quelle zitiert Ziel (A cites B).
// Beide Seiten sind externe IDs; das Ziel muss nicht als Paper existieren.
type Citation struct {
	CitingPaperID string    `json:"citing_paper_id" gorm:"column:citing_paper_id;primaryKey;size:64"`
	CitedPaperID  string    `json:"cited_paper_id" gorm:"column:cited_paper_id;primaryKey;size:64;index"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Citation) TableName() string { return "citations" }
