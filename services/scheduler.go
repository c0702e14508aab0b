package services

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Ingester ist die Schnittstelle der Pipeline, die der Scheduler nutzt.
type Ingester interface {
	Run(ctx context.Context, query string, limit int) (*RunResult, error)
}

// Scheduler führt die konfigurierten Standard-Suchanfragen periodisch aus.
type Scheduler struct {
	cron     *cron.Cron
	ingester Ingester
	queries  []string
	limit    int
	logger   *zap.Logger
}

// NewScheduler registriert den Job. Ohne Suchanfragen wird kein Job angelegt.
func NewScheduler(spec string, queries []string, limit int, ingester Ingester, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		ingester: ingester,
		queries:  queries,
		limit:    limit,
		logger:   logger,
	}
	if len(queries) == 0 {
		logger.Info("Keine geplanten Suchanfragen konfiguriert, Scheduler bleibt leer.")
		return s, nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// RunOnce führt alle Suchanfragen nacheinander aus und liefert die Zahl neu verarbeiteter Papers.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.logger.Info("Running scheduled ingestion job...", zap.Int("queries", len(s.queries)))
	total := 0
	for _, q := range s.queries {
		res, err := s.ingester.Run(ctx, q, s.limit)
		if err != nil {
			s.logger.Error("Geplante Ingestion fehlgeschlagen", zap.String("query", q), zap.Error(err))
			continue
		}
		total += res.ProcessedCount
	}
	s.logger.Info("Scheduled ingestion completed", zap.Int("processed", total))
	return total
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop hält den Cron an und wartet auf laufende Jobs.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Entries gibt die Anzahl registrierter Jobs zurück.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
