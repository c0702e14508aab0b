// Package pubmed enthält die Logik für die Interaktion mit PubMed Central (E-utilities, db=pmc)
// sowie den Parser für JATS-Artikeldokumente.
package pubmed

import (
	"encoding/xml"
)

// ESearchResult repräsentiert die XML-Antwort von ESearch für die ID-Suche.
type ESearchResult struct {
	XMLName xml.Name `xml:"eSearchResult"`
	Count   int      `xml:"Count"`
	RetMax  int      `xml:"RetMax"`
	IDList  []string `xml:"IdList>Id"`
	// ESearch meldet manche Fehler mit Status 200 im Dokument
	ErrorList struct {
		PhraseNotFound []string `xml:"PhraseNotFound"`
	} `xml:"ErrorList"`
	Error string `xml:"ERROR"`
}
