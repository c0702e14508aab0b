package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Labels des externen NER-Dienstes.
const (
	LabelOrganization = "ORGANIZATION"
	LabelChemical     = "CHEMICAL"
	LabelDisease      = "DISEASE"
	LabelGene         = "GENE"
	LabelProtein      = "PROTEIN"
)

// Entity ist eine vom NER-Dienst erkannte Textstelle.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// EntityRecognizer erkennt benannte Entitäten in einem Text.
type EntityRecognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

// NERClient spricht mit einem externen NER-Dienst (POST /ner).
type NERClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ EntityRecognizer = (*NERClient)(nil)

// NewNERClient erstellt einen wiederverwendbaren HTTP-Client.
func NewNERClient(endpoint, apiKey string, timeout time.Duration) *NERClient {
	return &NERClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Recognize sendet den Text und liefert die Entitäten mit normalisierten Labels.
func (c *NERClient) Recognize(ctx context.Context, text string) ([]Entity, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/ner", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for i := range out.Entities {
		out.Entities[i].Label = normalizeLabel(out.Entities[i].Label)
	}
	return out.Entities, nil
}

// normalizeLabel bildet gängige Varianten (z.B. "ORG", "disease") auf die festen Labels ab.
func normalizeLabel(label string) string {
	switch l := strings.ToUpper(strings.TrimSpace(label)); l {
	case "ORG", "ORGANISATION":
		return LabelOrganization
	case "CHEM":
		return LabelChemical
	default:
		return l
	}
}
