package models

import "time"

// Record ist das normalisierte Ergebnis des Parsens eines Artikel-Dokuments.
type Record struct {
	ExternalID      string
	DOI             string
	Title           string
	Abstract        string
	Journal         string
	PublicationDate *time.Time
	Authors         []string
	Citations       []string
	FullText        string
}
