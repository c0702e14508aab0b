package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"citation-finder/apperrors"
	"citation-finder/config"
	"citation-finder/graph"
	"citation-finder/models"
	"citation-finder/providers"
	"citation-finder/services"
	"citation-finder/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultIngestLimit = 10
	defaultPageSize    = 100
	maxPageSize        = 1000
	topCitedCount      = 10
)

// IngestRequest ist der Body von POST /ingest.
type IngestRequest struct {
	Query string `json:"query" binding:"required"`
	Limit *int   `json:"limit"`
}

// IngestResponse enthält immer ingested_count == len(papers).
type IngestResponse struct {
	Message       string                       `json:"message"`
	RunID         string                       `json:"run_id"`
	IngestedCount int                          `json:"ingested_count"`
	Papers        []PaperSummary               `json:"papers"`
	Errors        []services.RecordError       `json:"errors"`
	Entities      map[string]services.Entities `json:"entities"`
}

// PaperSummary ist die Listenansicht eines Papers.
type PaperSummary struct {
	ID              string     `json:"id"`
	DOI             string     `json:"doi,omitempty"`
	Title           string     `json:"title"`
	Journal         string     `json:"journal"`
	PublicationDate *time.Time `json:"publication_date"`
	Authors         []string   `json:"authors"`
}

// PaperDetail ist die Einzelansicht inklusive Abstract.
type PaperDetail struct {
	PaperSummary
	Abstract  string    `json:"abstract"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newRouter(cfg *config.Config, store *storage.Store, pipeline *services.Pipeline, g *graph.CitationGraph, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupHealthRoutes(router, store, g, log)
	setupIngestRoutes(router, pipeline, store, log)
	setupPaperRoutes(router, store, log)
	setupGraphRoutes(router, pipeline, g, log)
	return router
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if strings.TrimSpace(cfg.AllowedOrigins) == "*" || cfg.AllowedOrigins == "" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsCfg.AllowCredentials = true
	}
	return cors.New(corsCfg)
}

func setupHealthRoutes(router *gin.Engine, store *storage.Store, g *graph.CitationGraph, log *zap.Logger) {
	router.GET("/health", func(c *gin.Context) {
		now := time.Now().UTC()
		if err := store.Ping(c.Request.Context()); err != nil {
			log.Error("Health check: Datenbank nicht erreichbar", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "disconnected", "timestamp": now})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"database":    "connected",
			"graph_nodes": g.NodeCount(),
			"graph_edges": g.EdgeCount(),
			"timestamp":   now,
		})
	})
}

func setupIngestRoutes(router *gin.Engine, pipeline *services.Pipeline, store *storage.Store, log *zap.Logger) {
	router.POST("/ingest", func(c *gin.Context) {
		var req IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.HandleError(c, log, apperrors.Validation("body", err.Error()))
			return
		}
		limit := defaultIngestLimit
		if req.Limit != nil {
			limit = *req.Limit
		}

		res, err := pipeline.Run(c.Request.Context(), req.Query, limit)
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		papers := make([]PaperSummary, 0, len(res.Papers))
		for i := range res.Papers {
			papers = append(papers, toSummary(&res.Papers[i]))
		}
		c.JSON(http.StatusOK, IngestResponse{
			Message:       fmt.Sprintf("Successfully ingested %d papers", len(papers)),
			RunID:         res.RunID.String(),
			IngestedCount: len(papers),
			Papers:        papers,
			Errors:        res.Errors,
			Entities:      res.Entities,
		})
	})

	router.GET("/ingest/runs", func(c *gin.Context) {
		limit, err := queryInt(c, "limit", 20)
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		runs, err := store.ListRuns(c.Request.Context(), min(limit, maxPageSize))
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, runs)
	})
}

func setupPaperRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	router.GET("/papers", func(c *gin.Context) {
		skip, err := queryInt(c, "skip", 0)
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		limit, err := queryInt(c, "limit", defaultPageSize)
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		papers, err := store.List(c.Request.Context(), skip, min(limit, maxPageSize))
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		out := make([]PaperSummary, 0, len(papers))
		for i := range papers {
			out = append(out, toSummary(&papers[i]))
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/papers/:id", func(c *gin.Context) {
		paper, err := store.GetByExternalID(c.Request.Context(), providers.NormalizeID(c.Param("id")))
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, PaperDetail{
			PaperSummary: toSummary(paper),
			Abstract:     paper.Abstract,
			CreatedAt:    paper.CreatedAt,
			UpdatedAt:    paper.UpdatedAt,
		})
	})
}

func setupGraphRoutes(router *gin.Engine, pipeline *services.Pipeline, g *graph.CitationGraph, log *zap.Logger) {
	router.POST("/process/:id", func(c *gin.Context) {
		res, err := pipeline.Process(c.Request.Context(), c.Param("id"))
		if err != nil {
			apperrors.HandleError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	router.GET("/network", func(c *gin.Context) {
		c.JSON(http.StatusOK, g.Summarize(topCitedCount))
	})

	// Unbekannte IDs liefern eine leere Analyse, keinen 404.
	router.GET("/citations/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, g.Analyze(providers.NormalizeID(c.Param("id"))))
	})
}

func toSummary(p *models.Paper) PaperSummary {
	authors := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		authors = append(authors, a.Name)
	}
	return PaperSummary{
		ID:              p.ExternalID,
		DOI:             p.DOI,
		Title:           p.Title,
		Journal:         p.Journal,
		PublicationDate: p.PublicationDate,
		Authors:         authors,
	}
}

// queryInt liest einen optionalen ganzzahligen Query-Parameter.
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation(key, "must be an integer")
	}
	return v, nil
}
