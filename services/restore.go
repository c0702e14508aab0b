package services

import (
	"context"
	"fmt"

	"citation-finder/graph"
	"citation-finder/models"

	"go.uber.org/zap"
)

// GraphSource liefert den gespeicherten Stand für den Graph-Aufbau.
type GraphSource interface {
	ExternalIDs(ctx context.Context) ([]string, error)
	Citations(ctx context.Context) ([]models.Citation, error)
}

// RestoreGraph baut den Zitationsgraphen beim Start aus der Datenbank auf.
func RestoreGraph(ctx context.Context, src GraphSource, g *graph.CitationGraph, logger *zap.Logger) error {
	ids, err := src.ExternalIDs(ctx)
	if err != nil {
		return fmt.Errorf("load paper ids: %w", err)
	}
	for _, id := range ids {
		g.AddNode(id)
	}
	edges, err := src.Citations(ctx)
	if err != nil {
		return fmt.Errorf("load citations: %w", err)
	}
	for _, e := range edges {
		g.AddEdge(e.CitingPaperID, e.CitedPaperID)
	}
	logger.Info("Zitationsgraph wiederhergestellt", zap.Int("nodes", g.NodeCount()), zap.Int("edges", g.EdgeCount()))
	return nil
}
