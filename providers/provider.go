package providers

import (
	"context"
	"strings"
)

// Provider ist das Interface, das jede Literaturquelle (z.B. PubMed Central, Europe PMC) implementieren muss.
type Provider interface {
	// Search liefert die externen IDs der Open-Access-Treffer in Ergebnisreihenfolge.
	// Fehler werden geloggt und ergeben eine leere Liste.
	Search(ctx context.Context, query string, maxResults int) []string

	// Fetch holt das rohe Artikel-XML für eine ID. Fehler werden an den Aufrufer weitergegeben.
	Fetch(ctx context.Context, id string) ([]byte, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "pubmed").
	Name() string
}

// NormalizeID entfernt Leerzeichen und ein führendes "PMC", damit beide Quellen dieselbe ID liefern.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 3 && strings.EqualFold(id[:3], "PMC") {
		id = id[3:]
	}
	return id
}
