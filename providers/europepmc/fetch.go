package europepmc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"citation-finder/apperrors"
	"citation-finder/config"
	"citation-finder/metrics"
	"citation-finder/providers"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Europe PMC erlaubt maximal 1000 Treffer pro Seite.
const maxPageSize = 1000

// Fetcher implementiert das Provider-Interface für Europe PMC.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	Limiter *rate.Limiter
	client  *http.Client
}

var _ providers.Provider = (*Fetcher)(nil)

// NewFetcher erstellt einen neuen Europe PMC Fetcher.
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
	return "europepmc"
}

// Search führt die Suche auf Europe PMC aus und liefert die PMC-IDs (ohne Präfix)
// der Open-Access-Treffer.
func (f *Fetcher) Search(ctx context.Context, term string, maxResults int) []string {
	log := f.Logger.With(zap.String("term", term), zap.Int("max_results", maxResults))
	log.Info("Starte Suche auf Europe PMC.")

	ids, err := f.search(ctx, term, maxResults)
	if err != nil {
		log.Error("Suche auf Europe PMC fehlgeschlagen, liefere leeres Ergebnis", zap.Error(err))
		metrics.SearchFailures.WithLabelValues(f.Name()).Inc()
		return []string{}
	}
	log.Info("Suche auf Europe PMC abgeschlossen", zap.Int("found_papers", len(ids)))
	return ids
}

func (f *Fetcher) search(ctx context.Context, term string, maxResults int) ([]string, error) {
	pageSize := maxResults
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	params := url.Values{}
	params.Set("query", term+" AND OPEN_ACCESS:y")
	params.Set("format", "json")
	params.Set("resultType", "lite")
	params.Set("pageSize", strconv.Itoa(pageSize))
	searchURL := fmt.Sprintf("%s/search?%s", f.baseURL(), params.Encode())
	f.Logger.Debug("Rufe Europe PMC API auf", zap.String("url", searchURL))

	body, status, err := f.get(ctx, searchURL)
	if err != nil {
		return nil, &apperrors.NetworkError{Op: "search", Err: err}
	}
	if status != http.StatusOK {
		return nil, &apperrors.NetworkError{Op: "search", StatusCode: status}
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &apperrors.ParseError{Msg: "europepmc search response", Err: err}
	}
	if resp.ErrMsg != "" {
		return nil, &apperrors.NetworkError{Op: "search", Err: fmt.Errorf("api error: %s", resp.ErrMsg)}
	}

	ids := make([]string, 0, len(resp.ResultList.Result))
	seen := make(map[string]bool)
	for _, article := range resp.ResultList.Result {
		if !article.hasFullText() {
			continue
		}
		id := providers.NormalizeID(article.PMCID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) == maxResults {
			break
		}
	}
	return ids, nil
}

// Fetch holt das JATS-XML über den fullTextXML-Endpunkt.
func (f *Fetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	id = providers.NormalizeID(id)
	fetchURL := fmt.Sprintf("%s/PMC%s/fullTextXML", f.baseURL(), url.PathEscape(id))
	f.Logger.Debug("Rufe Volltext ab", zap.String("pmid", id), zap.String("url", fetchURL))

	body, status, err := f.get(ctx, fetchURL)
	if err != nil {
		return nil, &apperrors.NetworkError{Op: "fullTextXML", ID: id, Err: err}
	}
	if status != http.StatusOK {
		return nil, &apperrors.NetworkError{Op: "fullTextXML", ID: id, StatusCode: status}
	}
	return body, nil
}

func (f *Fetcher) baseURL() string {
	return strings.TrimRight(f.Config.EuropePMCBaseURL, "/")
}

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
	return body, resp.StatusCode, nil
}
