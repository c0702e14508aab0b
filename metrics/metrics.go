// Package metrics bündelt die Prometheus-Metriken der Ingestion.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PapersIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papers_ingested_total",
			Help: "Total number of new papers added to the database.",
		},
	)
	PapersDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papers_reingested_total",
			Help: "Total number of ingested records whose external id already existed.",
		},
	)
	RecordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_record_failures_total",
			Help: "Records skipped during ingestion, by failing stage.",
		},
		[]string{"stage"},
	)
	SearchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_failures_total",
			Help: "Search requests that failed and returned an empty result.",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(PapersIngested, PapersDuplicate, RecordFailures, SearchFailures)
}

// RegisterGraphGauges exportiert die Größe des Zitationsgraphen.
func RegisterGraphGauges(reg prometheus.Registerer, nodes, edges func() int) error {
	if err := reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "citation_graph_nodes", Help: "Number of nodes in the citation graph."},
		func() float64 { return float64(nodes()) },
	)); err != nil {
		return err
	}
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "citation_graph_edges", Help: "Number of edges in the citation graph."},
		func() float64 { return float64(edges()) },
	))
}
