// Package graph hält den gerichteten Zitationsgraphen über externe Paper-IDs.
package graph

import (
	"sort"
	"sync"
)

// Ranked ist ein Eintrag der Zitations-Rangliste.
type Ranked struct {
	ID        string `json:"id"`
	Citations int    `json:"citations"`
}

// Analysis beschreibt die Zitationsbeziehungen eines einzelnen Knotens.
type Analysis struct {
	ID            string   `json:"id"`
	Outgoing      []string `json:"outgoing_citations"`
	Incoming      []string `json:"cited_by"`
	CitationCount int      `json:"citation_count"`
	CitedByCount  int      `json:"cited_by_count"`
	CitationDepth int      `json:"citation_depth"`
}

// Summary ist eine konsistente Momentaufnahme der Netzwerk-Kennzahlen.
type Summary struct {
	TotalNodes       int      `json:"total_nodes"`
	TotalEdges       int      `json:"total_edges"`
	TopCited         []Ranked `json:"top_cited"`
	NetworkDensity   float64  `json:"network_density"`
	AverageCitations float64  `json:"average_citations"`
}

type set map[string]struct{}

// CitationGraph ist ein Adjazenzlisten-Graph. Kanten werden nie entfernt.
// Schreibzugriffe sind serialisiert, Lesezugriffe laufen parallel.
type CitationGraph struct {
	mu    sync.RWMutex
	out   map[string]set
	in    map[string]set
	edges int
}

// New erstellt einen leeren Graphen.
func New() *CitationGraph {
	return &CitationGraph{
		out: make(map[string]set),
		in:  make(map[string]set),
	}
}

// AddNode fügt einen Knoten ohne Kanten hinzu.
func (g *CitationGraph) AddNode(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id)
}

func (g *CitationGraph) addNodeLocked(id string) {
	if _, ok := g.out[id]; !ok {
		g.out[id] = make(set)
		g.in[id] = make(set)
	}
}

// AddEdge fügt beide Endpunkte und die Kante citing -> cited atomar ein.
// Liefert true, wenn die Kante neu war. Selbstzitate und leere IDs werden ignoriert.
func (g *CitationGraph) AddEdge(citing, cited string) bool {
	if citing == "" || cited == "" || citing == cited {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addNodeLocked(citing)
	g.addNodeLocked(cited)
	if _, ok := g.out[citing][cited]; ok {
		return false
	}
	g.out[citing][cited] = struct{}{}
	g.in[cited][citing] = struct{}{}
	g.edges++
	return true
}

// HasNode meldet, ob id ein Knoten des Graphen ist.
func (g *CitationGraph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.out[id]
	return ok
}

// NodeCount liefert die Anzahl der Knoten.
func (g *CitationGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.out)
}

// EdgeCount liefert die Anzahl der Kanten.
func (g *CitationGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges
}

// TopCited liefert höchstens n Knoten nach In-Degree absteigend, bei Gleichstand nach ID aufsteigend.
func (g *CitationGraph) TopCited(n int) []Ranked {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topCitedLocked(n)
}

func (g *CitationGraph) topCitedLocked(n int) []Ranked {
	if n <= 0 || len(g.in) == 0 {
		return []Ranked{}
	}
	ranked := make([]Ranked, 0, len(g.in))
	for id, citedBy := range g.in {
		ranked = append(ranked, Ranked{ID: id, Citations: len(citedBy)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Citations != ranked[j].Citations {
			return ranked[i].Citations > ranked[j].Citations
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Density liefert edges / (nodes * (nodes - 1)), 0 bei weniger als zwei Knoten.
func (g *CitationGraph) Density() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.densityLocked()
}

func (g *CitationGraph) densityLocked() float64 {
	n := len(g.out)
	if n < 2 {
		return 0
	}
	return float64(g.edges) / float64(n*(n-1))
}

// AverageCitations liefert den mittleren In-Degree, 0 für einen leeren Graphen.
func (g *CitationGraph) AverageCitations() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.averageLocked()
}

func (g *CitationGraph) averageLocked() float64 {
	if len(g.in) == 0 {
		return 0
	}
	// Summe der In-Degrees == Anzahl der Kanten
	return float64(g.edges) / float64(len(g.in))
}

// CitationDepth liefert die größte BFS-Distanz entlang ausgehender Kanten.
func (g *CitationGraph) CitationDepth(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.depthLocked(id)
}

func (g *CitationGraph) depthLocked(id string) int {
	if _, ok := g.out[id]; !ok {
		return 0
	}
	dist := map[string]int{id: 0}
	queue := []string{id}
	maxDepth := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.out[cur] {
			if _, seen := dist[next]; seen {
				continue
			}
			d := dist[cur] + 1
			dist[next] = d
			if d > maxDepth {
				maxDepth = d
			}
			queue = append(queue, next)
		}
	}
	return maxDepth
}

// Analyze liefert die Beziehungen von id. Ein unbekannter Knoten ergibt leere Listen, keinen Fehler.
func (g *CitationGraph) Analyze(id string) Analysis {
	g.mu.RLock()
	defer g.mu.RUnlock()

	a := Analysis{ID: id, Outgoing: []string{}, Incoming: []string{}}
	if _, ok := g.out[id]; !ok {
		return a
	}
	a.Outgoing = sortedKeys(g.out[id])
	a.Incoming = sortedKeys(g.in[id])
	a.CitationCount = len(a.Outgoing)
	a.CitedByCount = len(a.Incoming)
	a.CitationDepth = g.depthLocked(id)
	return a
}

// Summarize berechnet alle Netzwerk-Kennzahlen unter einer Lesesperre.
func (g *CitationGraph) Summarize(top int) Summary {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Summary{
		TotalNodes:       len(g.out),
		TotalEdges:       g.edges,
		TopCited:         g.topCitedLocked(top),
		NetworkDensity:   g.densityLocked(),
		AverageCitations: g.averageLocked(),
	}
}

func sortedKeys(s set) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
