package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"citation-finder/apperrors"
	"citation-finder/config"
	"citation-finder/metrics"
	"citation-finder/providers"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const openAccessFilter = " AND open access[filter]"

// Fetcher ist eine Struktur, die die Logik zur Interaktion mit PubMed Central kapselt.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	Limiter *rate.Limiter
	client  *http.Client
}

var _ providers.Provider = (*Fetcher)(nil)

// NewFetcher erstellt eine neue Instanz des PubMed-Fetchers. Der Limiter wird
// mit allen anderen externen Aufrufen des Prozesses geteilt.
func NewFetcher(cfg *config.Config, limiter *rate.Limiter, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		Limiter: limiter,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "pubmed"
}

// Search führt eine ESearch-Abfrage auf db=pmc durch und gibt die IDs zurück.
// Schlägt die Suche fehl, wird der Fehler geloggt und eine leere Liste geliefert.
func (f *Fetcher) Search(ctx context.Context, query string, maxResults int) []string {
	log := f.Logger.With(zap.String("term", query), zap.Int("retmax", maxResults))
	log.Info("Starte PMC ESearch für IDs.")

	ids, err := f.searchIDs(ctx, query, maxResults)
	if err != nil {
		log.Error("ESearch fehlgeschlagen, liefere leeres Ergebnis", zap.Error(err))
		metrics.SearchFailures.WithLabelValues(f.Name()).Inc()
		return []string{}
	}
	if len(ids) == 0 {
		log.Info("Keine Treffer für die Suche.")
	} else {
		log.Info("PMC ESearch abgeschlossen", zap.Int("total_ids", len(ids)))
	}
	return ids
}

func (f *Fetcher) searchIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	searchURL := f.buildEsearchURL(query+openAccessFilter, maxResults)
	f.Logger.Debug("Rufe ESearch-URL auf", zap.String("url", searchURL))

	body, status, err := f.get(ctx, searchURL)
	if err != nil {
		return nil, &apperrors.NetworkError{Op: "esearch", Err: err}
	}
	if status != http.StatusOK {
		return nil, &apperrors.NetworkError{Op: "esearch", StatusCode: status}
	}

	var result ESearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, &apperrors.ParseError{Msg: "esearch response", Err: err}
	}
	if result.Error != "" {
		return nil, &apperrors.NetworkError{Op: "esearch", Err: fmt.Errorf("api error: %s", result.Error)}
	}

	ids := make([]string, 0, len(result.IDList))
	for _, id := range result.IDList {
		if id = providers.NormalizeID(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

// Fetch holt das vollständige Artikel-XML für eine ID via EFetch.
func (f *Fetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	id = providers.NormalizeID(id)
	efetchURL := f.buildEfetchURL(id)
	f.Logger.Debug("Rufe EFetch-URL auf", zap.String("pmid", id), zap.String("url", efetchURL))

	body, status, err := f.get(ctx, efetchURL)
	if err != nil {
		return nil, &apperrors.NetworkError{Op: "efetch", ID: id, Err: err}
	}
	if status != http.StatusOK {
		return nil, &apperrors.NetworkError{Op: "efetch", ID: id, StatusCode: status}
	}
	return body, nil
}

// get wartet auf den geteilten Limiter und führt einen GET mit dem Timeout des Clients aus.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusOK && !isXML(resp.Header.Get("Content-Type"), body) {
		return nil, resp.StatusCode, fmt.Errorf("response is not XML (content-type %q)", resp.Header.Get("Content-Type"))
	}
	return body, resp.StatusCode, nil
}

// isXML akzeptiert XML-Content-Types und, falls der Header fehlt, Bodies mit XML-Anfang.
func isXML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "xml") {
		return true
	}
	if contentType == "" || strings.HasPrefix(contentType, "text/plain") {
		return strings.HasPrefix(strings.TrimSpace(string(body)), "<")
	}
	return false
}

// buildEsearchURL baut die URL für eine ESearch-Anfrage.
func (f *Fetcher) buildEsearchURL(term string, retmax int) string {
	params := url.Values{}
	params.Set("db", "pmc")
	params.Set("term", term)
	params.Set("retmax", fmt.Sprintf("%d", retmax))
	params.Set("usehistory", "y")
	if f.Config.PubMedAPIKey != "" {
		params.Set("api_key", f.Config.PubMedAPIKey)
	}
	return fmt.Sprintf("%s/esearch.fcgi?%s", strings.TrimRight(f.Config.PubMedBaseURL, "/"), params.Encode())
}

// buildEfetchURL baut die URL für eine EFetch-Anfrage.
func (f *Fetcher) buildEfetchURL(id string) string {
	params := url.Values{}
	params.Set("db", "pmc")
	params.Set("id", id)
	params.Set("retmode", "xml")
	if f.Config.PubMedAPIKey != "" {
		params.Set("api_key", f.Config.PubMedAPIKey)
	}
	return fmt.Sprintf("%s/efetch.fcgi?%s", strings.TrimRight(f.Config.PubMedBaseURL, "/"), params.Encode())
}
