package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"citation-finder/apperrors"
	"citation-finder/config"
	"citation-finder/graph"
	"citation-finder/metrics"
	"citation-finder/models"
	"citation-finder/providers"
	"citation-finder/providers/pubmed"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Stufen der Verarbeitung eines Datensatzes, auch Label der Fehler-Metrik.
const (
	StageFetch  = "fetch"
	StageParse  = "parse"
	StageStore  = "store"
	StageCancel = "cancelled"
)

// RecordParser wandelt ein rohes Artikel-XML in einen Record um.
type RecordParser interface {
	Parse(payload []byte) (*models.Record, error)
}

// PaperStore ist der Teil des Stores, den die Pipeline benötigt.
type PaperStore interface {
	UpsertPaper(ctx context.Context, rec *models.Record) (*models.Paper, bool, error)
	GetByExternalID(ctx context.Context, id string) (*models.Paper, error)
	SaveRun(ctx context.Context, run *models.IngestionRun) error
}

// Archiver legt rohe Artikel-XMLs ab.
type Archiver interface {
	Archive(ctx context.Context, id string, payload []byte) (string, error)
}

// RecordError beschreibt einen übersprungenen Datensatz.
type RecordError struct {
	ID      string `json:"id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// RecordResult ist das Ergebnis für genau eine ID: entweder Paper oder Err.
type RecordResult struct {
	ID       string
	Paper    *models.Paper
	Created  bool
	Entities Entities
	Stage    string
	Err      error
}

// OK meldet, ob der Datensatz erfolgreich verarbeitet wurde.
func (r RecordResult) OK() bool { return r.Err == nil }

// RunResult fasst einen Pipeline-Durchlauf zusammen. ProcessedCount == len(Papers).
type RunResult struct {
	RunID          uuid.UUID           `json:"run_id"`
	Query          string              `json:"query"`
	Found          int                 `json:"found"`
	ProcessedCount int                 `json:"processed_count"`
	Papers         []models.Paper      `json:"papers"`
	Errors         []RecordError       `json:"errors"`
	Entities       map[string]Entities `json:"entities"`
}

// ProcessResult ist die Antwort von POST /process/{id}.
type ProcessResult struct {
	ID                string   `json:"id"`
	ProcessedEntities Entities `json:"processed_entities"`
	CitationCount     int      `json:"citation_count"`
	TextLength        int      `json:"text_length"`
}

// Pipeline orchestriert Suche, Abruf, Parsing, Speicherung und Graph-Aufbau.
// Mehrere Runs dürfen parallel laufen; Store, Graph und Rate-Limiter werden geteilt.
type Pipeline struct {
	Config     *config.Config
	Provider   providers.Provider
	Parser     RecordParser
	Store      PaperStore
	Graph      *graph.CitationGraph
	Extractor  *EntityExtractor
	Normalizer *TextNormalizer
	Archive    Archiver // optional
	Logger     *zap.Logger
}

// Run führt die Ingestion für eine Suchanfrage aus. Fehler einzelner Datensätze
// werden gesammelt und brechen den Lauf nicht ab.
func (p *Pipeline) Run(ctx context.Context, query string, limit int) (*RunResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.Validation("query", "must not be empty")
	}
	if limit <= 0 {
		return nil, apperrors.Validation("limit", "must be positive")
	}
	if limit > p.Config.MaxIngestLimit {
		p.Logger.Info("Limit wird gekappt", zap.Int("requested", limit), zap.Int("max", p.Config.MaxIngestLimit))
		limit = p.Config.MaxIngestLimit
	}

	run := &models.IngestionRun{
		ID:        uuid.New(),
		Query:     query,
		Limit:     limit,
		StartedAt: time.Now().UTC(),
	}
	log := p.Logger.With(zap.String("run_id", run.ID.String()), zap.String("query", query), zap.String("provider", p.Provider.Name()))
	log.Info("Starte Ingestion", zap.Int("limit", limit))

	ids := p.Provider.Search(ctx, query, limit)
	result := &RunResult{
		RunID:    run.ID,
		Query:    query,
		Found:    len(ids),
		Papers:   []models.Paper{},
		Errors:   []RecordError{},
		Entities: map[string]Entities{},
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			log.Warn("Ingestion abgebrochen", zap.Int("remaining", len(ids)-i), zap.Error(ctx.Err()))
			for _, rest := range ids[i:] {
				result.Errors = append(result.Errors, RecordError{ID: rest, Stage: StageCancel, Message: ctx.Err().Error()})
			}
			break
		}
		res := p.ingest(ctx, id)
		if !res.OK() {
			log.Warn("Datensatz übersprungen", zap.String("pmid", id), zap.String("stage", res.Stage), zap.Error(res.Err))
			metrics.RecordFailures.WithLabelValues(res.Stage).Inc()
			result.Errors = append(result.Errors, RecordError{ID: id, Stage: res.Stage, Message: res.Err.Error()})
			continue
		}
		if res.Created {
			metrics.PapersIngested.Inc()
		} else {
			metrics.PapersDuplicate.Inc()
		}
		result.Papers = append(result.Papers, *res.Paper)
		result.Entities[res.Paper.ExternalID] = res.Entities
	}
	result.ProcessedCount = len(result.Papers)

	run.Found = result.Found
	run.ProcessedCount = result.ProcessedCount
	run.FailedCount = len(result.Errors)
	run.FinishedAt = time.Now().UTC()
	p.saveRun(log, run, result.Errors)

	log.Info("Ingestion abgeschlossen",
		zap.Int("found", result.Found),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("failed", len(result.Errors)),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)))
	return result, nil
}

// ingest verarbeitet eine einzelne ID und liefert immer ein RecordResult.
func (p *Pipeline) ingest(ctx context.Context, id string) RecordResult {
	payload, err := p.Provider.Fetch(ctx, id)
	if err != nil {
		return RecordResult{ID: id, Stage: StageFetch, Err: err}
	}
	p.archive(ctx, id, payload)

	rec, err := p.Parser.Parse(payload)
	if err != nil {
		return RecordResult{ID: id, Stage: StageParse, Err: err}
	}
	// Ohne ID im Dokument gilt die angefragte ID
	if rec.ExternalID == pubmed.UnknownID || rec.ExternalID == "" {
		rec.ExternalID = providers.NormalizeID(id)
	}
	rec.Title, rec.Abstract, rec.Journal, rec.FullText = p.Normalizer.NormalizeRecordText(rec.Title, rec.Abstract, rec.Journal, rec.FullText)
	if rec.Title == "" {
		rec.Title = pubmed.NoTitle
	}

	paper, created, err := p.Store.UpsertPaper(ctx, rec)
	if err != nil {
		return RecordResult{ID: id, Stage: StageStore, Err: err}
	}

	p.Graph.AddNode(paper.ExternalID)
	if created {
		for _, cited := range rec.Citations {
			p.Graph.AddEdge(paper.ExternalID, cited)
		}
	}

	return RecordResult{
		ID:       id,
		Paper:    paper,
		Created:  created,
		Entities: p.Extractor.Extract(ctx, paper.Title, paper.Abstract),
	}
}

// archive ist best effort; ein Fehler wird nur geloggt.
func (p *Pipeline) archive(ctx context.Context, id string, payload []byte) {
	if p.Archive == nil {
		return
	}
	if _, err := p.Archive.Archive(ctx, providers.NormalizeID(id), payload); err != nil {
		p.Logger.Warn("Archivierung fehlgeschlagen", zap.String("pmid", id), zap.Error(err))
	}
}

func (p *Pipeline) saveRun(log *zap.Logger, run *models.IngestionRun, errs []RecordError) {
	raw, err := json.Marshal(errs)
	if err != nil {
		log.Warn("Fehlerliste nicht serialisierbar", zap.Error(err))
		raw = []byte("[]")
	}
	run.Errors = datatypes.JSON(raw)
	// unabhängig vom Request-Kontext
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Store.SaveRun(ctx, run); err != nil {
		log.Error("Ingestion-Run konnte nicht gespeichert werden", zap.Error(err))
	}
}

// Process berechnet Entitäten und Kennzahlen für ein gespeichertes Paper.
func (p *Pipeline) Process(ctx context.Context, id string) (*ProcessResult, error) {
	id = providers.NormalizeID(id)
	if id == "" {
		return nil, apperrors.Validation("id", "must not be empty")
	}
	paper, err := p.Store.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	text := paper.Title + " " + paper.Abstract
	return &ProcessResult{
		ID:                paper.ExternalID,
		ProcessedEntities: p.Extractor.Extract(ctx, paper.Title, paper.Abstract),
		CitationCount:     len(p.Graph.Analyze(paper.ExternalID).Outgoing),
		TextLength:        p.Normalizer.WordCount(text),
	}, nil
}
