// Package europepmc implementiert den Provider für die Europe PMC REST-API.
// Die Volltexte liegen dort ebenfalls als JATS-XML vor und werden mit dem
// PubMed-Parser verarbeitet.
package europepmc

// SearchResponse ist die Top-Level-Struktur der Europe PMC API-Antwort.
type SearchResponse struct {
	HitCount   int `json:"hitCount"`
	ResultList struct {
		Result []Article `json:"result"`
	} `json:"resultList"`
	ErrMsg string `json:"errMsg"`
}

// Article repräsentiert einen einzelnen Treffer (resultType=lite).
type Article struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	PMID         string `json:"pmid"`
	PMCID        string `json:"pmcid"`
	DOI          string `json:"doi"`
	Title        string `json:"title"`
	IsOpenAccess string `json:"isOpenAccess"`
	InEPMC       string `json:"inEPMC"`
}

// hasFullText prüft, ob Europe PMC den Volltext als XML ausliefern kann.
func (a *Article) hasFullText() bool {
	return a.PMCID != "" && a.IsOpenAccess == "Y"
}
