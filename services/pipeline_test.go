package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"citation-finder/apperrors"
	"citation-finder/config"
	"citation-finder/graph"
	"citation-finder/models"
	"citation-finder/providers/pubmed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	ids      []string
	payloads map[string]string
	fetchErr map[string]error

	mu       sync.Mutex
	gotLimit int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, query string, maxResults int) []string {
	f.mu.Lock()
	f.gotLimit = maxResults
	f.mu.Unlock()
	if len(f.ids) > maxResults {
		return f.ids[:maxResults]
	}
	return f.ids
}

func (f *fakeProvider) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	payload, ok := f.payloads[id]
	if !ok {
		return nil, &apperrors.NetworkError{Op: "efetch", ID: id, StatusCode: 404}
	}
	return []byte(payload), nil
}

type memStore struct {
	mu     sync.Mutex
	papers map[string]*models.Paper
	runs   []*models.IngestionRun
	runErr error
}

func newMemStore() *memStore { return &memStore{papers: map[string]*models.Paper{}} }

func (m *memStore) UpsertPaper(ctx context.Context, rec *models.Record) (*models.Paper, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.papers[rec.ExternalID]; ok {
		return p, false, nil
	}
	p := &models.Paper{ID: uint(len(m.papers) + 1), ExternalID: rec.ExternalID, Title: rec.Title, Abstract: rec.Abstract, Journal: rec.Journal}
	for _, a := range rec.Authors {
		p.Authors = append(p.Authors, models.Author{Name: a})
	}
	m.papers[rec.ExternalID] = p
	return p, true, nil
}

func (m *memStore) GetByExternalID(ctx context.Context, id string) (*models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.papers[id]; ok {
		return p, nil
	}
	return nil, apperrors.NotFound("paper", id)
}

func (m *memStore) SaveRun(ctx context.Context, run *models.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return m.runErr
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Archive(ctx context.Context, id string, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, id)
	return "articles/" + id + ".xml", nil
}

func article(id, title string, cites ...string) string {
	refs := ""
	for i, c := range cites {
		refs += fmt.Sprintf(`<ref id="r%d"><pub-id pub-id-type="pmid">%s</pub-id></ref>`, i, c)
	}
	return fmt.Sprintf(`<pmc-articleset><article><front><article-meta>
<article-id pub-id-type="pmc">PMC%s</article-id>
<title-group><article-title>%s</article-title></title-group>
<contrib-group><contrib contrib-type="author"><name><surname>Doe</surname><given-names>Jane</given-names></name></contrib></contrib-group>
<abstract><p>DNA repair  in vivo.</p></abstract>
</article-meta></front><back><ref-list>%s</ref-list></back></article></pmc-articleset>`, id, title, refs)
}

func newTestPipeline(provider *fakeProvider, store *memStore) *Pipeline {
	logger := zap.NewNop()
	return &Pipeline{
		Config:     &config.Config{MaxIngestLimit: 10},
		Provider:   provider,
		Parser:     pubmed.NewParser(logger),
		Store:      store,
		Graph:      graph.New(),
		Extractor:  NewEntityExtractor(nil, logger),
		Normalizer: NewTextNormalizer(logger),
		Logger:     logger,
	}
}

func TestPipelineRun_PartialFailure(t *testing.T) {
	provider := &fakeProvider{
		ids: []string{"1", "2", "3"},
		payloads: map[string]string{
			"1": article("1", "First", "3", "9"),
			"3": article("3", "Third"),
		},
		fetchErr: map[string]error{"2": &apperrors.NetworkError{Op: "efetch", ID: "2", Err: errors.New("timeout")}},
	}
	store := newMemStore()
	p := newTestPipeline(provider, store)

	res, err := p.Run(context.Background(), "dna repair", 3)

	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	require.Len(t, res.Papers, 2)
	assert.Equal(t, "1", res.Papers[0].ExternalID)
	assert.Equal(t, "3", res.Papers[1].ExternalID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, RecordError{ID: "2", Stage: StageFetch, Message: "efetch 2: timeout"}, res.Errors[0])
	assert.Contains(t, res.Entities["1"].ScientificTerms, "DNA")

	assert.Equal(t, 3, p.Graph.NodeCount())
	assert.Equal(t, 2, p.Graph.EdgeCount())
	assert.Equal(t, []string{"1"}, p.Graph.Analyze("3").Incoming)

	require.Len(t, store.runs, 1)
	assert.Equal(t, 2, store.runs[0].ProcessedCount)
	assert.Equal(t, 1, store.runs[0].FailedCount)
	assert.JSONEq(t, `[{"id":"2","stage":"fetch","message":"efetch 2: timeout"}]`, string(store.runs[0].Errors))
}

func TestPipelineRun_ParseFailureIsSkipped(t *testing.T) {
	provider := &fakeProvider{
		ids:      []string{"1", "2"},
		payloads: map[string]string{"1": "<article><front>", "2": article("2", "Ok")},
	}
	p := newTestPipeline(provider, newMemStore())

	res, err := p.Run(context.Background(), "q", 5)

	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StageParse, res.Errors[0].Stage)
}

func TestPipelineRun_Validation(t *testing.T) {
	p := newTestPipeline(&fakeProvider{}, newMemStore())

	for _, tc := range []struct {
		query string
		limit int
	}{{"q", 0}, {"q", -1}, {"  ", 5}} {
		_, err := p.Run(context.Background(), tc.query, tc.limit)
		var validation *apperrors.ValidationError
		assert.ErrorAs(t, err, &validation, "query %q limit %d", tc.query, tc.limit)
	}
}

func TestPipelineRun_CapsLimit(t *testing.T) {
	provider := &fakeProvider{}
	p := newTestPipeline(provider, newMemStore())

	res, err := p.Run(context.Background(), "q", 500)

	require.NoError(t, err)
	assert.Equal(t, 10, provider.gotLimit)
	assert.Equal(t, 0, res.ProcessedCount)
	assert.NotNil(t, res.Papers)
}

func TestPipelineRun_ReingestIsNoOp(t *testing.T) {
	provider := &fakeProvider{ids: []string{"1"}, payloads: map[string]string{"1": article("1", "Original", "5")}}
	store := newMemStore()
	p := newTestPipeline(provider, store)

	_, err := p.Run(context.Background(), "q", 1)
	require.NoError(t, err)

	provider.payloads["1"] = article("1", "Changed", "6")
	res, err := p.Run(context.Background(), "q", 1)
	require.NoError(t, err)

	require.Len(t, res.Papers, 1)
	assert.Equal(t, "Original", res.Papers[0].Title)
	assert.Equal(t, 1, p.Graph.EdgeCount())
	assert.False(t, p.Graph.HasNode("6"))
}

func TestPipelineRun_UnknownIDFallsBackToRequestedID(t *testing.T) {
	provider := &fakeProvider{ids: []string{"77"}, payloads: map[string]string{"77": "<article><front/></article>"}}
	p := newTestPipeline(provider, newMemStore())

	res, err := p.Run(context.Background(), "q", 1)

	require.NoError(t, err)
	require.Len(t, res.Papers, 1)
	assert.Equal(t, "77", res.Papers[0].ExternalID)
	assert.Equal(t, pubmed.NoTitle, res.Papers[0].Title)
}

func TestPipelineRun_ArchiveFailureDoesNotSkip(t *testing.T) {
	provider := &fakeProvider{ids: []string{"1"}, payloads: map[string]string{"1": article("1", "T")}}
	p := newTestPipeline(provider, newMemStore())
	p.Archive = &fakeArchive{err: errors.New("bucket missing")}

	res, err := p.Run(context.Background(), "q", 1)

	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
}

func TestPipelineRun_ArchivesPayload(t *testing.T) {
	provider := &fakeProvider{ids: []string{"1"}, payloads: map[string]string{"1": article("1", "T")}}
	archive := &fakeArchive{}
	p := newTestPipeline(provider, newMemStore())
	p.Archive = archive

	_, err := p.Run(context.Background(), "q", 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, archive.keys)
}

func TestPipelineRun_RunPersistenceFailureIsIgnored(t *testing.T) {
	store := newMemStore()
	store.runErr = errors.New("db down")
	provider := &fakeProvider{ids: []string{"1"}, payloads: map[string]string{"1": article("1", "T")}}

	res, err := newTestPipeline(provider, store).Run(context.Background(), "q", 1)

	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
}

func TestPipelineRun_CancelledContext(t *testing.T) {
	provider := &fakeProvider{ids: []string{"1", "2"}, payloads: map[string]string{"1": article("1", "T"), "2": article("2", "U")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestPipeline(provider, newMemStore()).Run(ctx, "q", 2)

	require.NoError(t, err)
	assert.Equal(t, 0, res.ProcessedCount)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, StageCancel, res.Errors[0].Stage)
}

func TestPipelineProcess(t *testing.T) {
	provider := &fakeProvider{ids: []string{"1"}, payloads: map[string]string{"1": article("1", "BRCA1 signaling", "2", "3")}}
	p := newTestPipeline(provider, newMemStore())
	_, err := p.Run(context.Background(), "q", 1)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), "PMC1")

	require.NoError(t, err)
	assert.Equal(t, "1", res.ID)
	assert.Equal(t, 2, res.CitationCount)
	// "BRCA1 signaling" + "DNA repair in vivo."
	assert.Equal(t, 6, res.TextLength)
	assert.Contains(t, res.ProcessedEntities.ScientificTerms, "BRCA1")
	assert.Contains(t, res.ProcessedEntities.ScientificTerms, "in vivo")

	_, err = p.Process(context.Background(), "404")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPipelineRun_ConcurrentRunsShareStore(t *testing.T) {
	provider := &fakeProvider{
		ids:      []string{"1", "2"},
		payloads: map[string]string{"1": article("1", "A", "2"), "2": article("2", "B", "1")},
	}
	store := newMemStore()
	p := newTestPipeline(provider, store)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Run(context.Background(), "q", 2)
			assert.NoError(t, err)
			assert.Equal(t, 2, res.ProcessedCount)
		}()
	}
	wg.Wait()

	assert.Len(t, store.papers, 2)
	assert.Equal(t, 2, p.Graph.EdgeCount())
}
