package models

import (
	"time"
)

// Paper repräsentiert einen aufgenommenen Artikel. Die externe ID ist der stabile Schlüssel.
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExternalID      string     `json:"pmid" gorm:"column:external_id;uniqueIndex;size:64;not null"`
	DOI             string     `json:"doi,omitempty" gorm:"column:doi;index;size:255"`
	Title           string     `json:"title" gorm:"type:text;not null"`
	Abstract        string     `json:"abstract" gorm:"type:text"`
	PublicationDate *time.Time `json:"publication_date"`
	Journal         string     `json:"journal" gorm:"size:255"`
	FullText        string     `json:"-" gorm:"type:text"`

	// Wird über paper_authors geladen, nicht von GORM verwaltet
	Authors []Author `json:"authors" gorm:"-"`
}

// TableName gibt explizit den Tabellennamen an.
func (Paper) TableName() string {
	return "papers"
}

// Author wird ausschließlich über den exakten Namen identifiziert.
type Author struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name" gorm:"uniqueIndex;size:255;not null"`
}

func (Author) TableName() string { return "authors" }

// PaperAuthor ist die Join-Tabelle; Position erhält die Reihenfolge aus dem Quelldokument.
type PaperAuthor struct {
	PaperID  uint `gorm:"primaryKey;autoIncrement:false"`
	AuthorID uint `gorm:"primaryKey;autoIncrement:false;index"`
	Position int  `gorm:"not null;default:0"`
}

func (PaperAuthor) TableName() string { return "paper_authors" }
