package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"citation-finder/apperrors"
	"citation-finder/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "papers.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewStore(db, zap.NewNop())
	require.NoError(t, store.Migrate())
	return store
}

func record(id string, authors ...string) *models.Record {
	return &models.Record{
		ExternalID: id,
		Title:      "Paper " + id,
		Abstract:   "Abstract " + id,
		Journal:    "Journal",
		Authors:    authors,
	}
}

func countRows(t *testing.T, s *Store, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB.Model(model).Count(&n).Error)
	return n
}

func TestUpsertPaper_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := record("100", "Jane Doe")
	rec.Citations = []string{"200", "300"}

	first, created, err := s.UpsertPaper(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	changed := record("100", "Someone Else")
	changed.Title = "Changed title"
	second, created, err := s.UpsertPaper(ctx, changed)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Paper 100", second.Title)
	require.Len(t, second.Authors, 1)
	assert.Equal(t, "Jane Doe", second.Authors[0].Name)
	assert.EqualValues(t, 1, countRows(t, s, &models.Paper{}))
	assert.EqualValues(t, 1, countRows(t, s, &models.Author{}))
	assert.EqualValues(t, 2, countRows(t, s, &models.Citation{}))
}

func TestUpsertPaper_SharesAuthors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _, err := s.UpsertPaper(ctx, record("1", "Jane Doe", "Rick Roe"))
	require.NoError(t, err)
	b, _, err := s.UpsertPaper(ctx, record("2", "Rick Roe"))
	require.NoError(t, err)

	require.Len(t, a.Authors, 2)
	require.Len(t, b.Authors, 1)
	assert.Equal(t, a.Authors[1].ID, b.Authors[0].ID)
	assert.EqualValues(t, 2, countRows(t, s, &models.Author{}))
}

func TestUpsertPaper_AuthorOrderAndDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertPaper(ctx, record("1", "Zed", "Amy", "Zed", " "))
	require.NoError(t, err)

	got, err := s.GetByExternalID(ctx, "1")
	require.NoError(t, err)
	require.Len(t, got.Authors, 2)
	assert.Equal(t, "Zed", got.Authors[0].Name)
	assert.Equal(t, "Amy", got.Authors[1].Name)
}

func TestOrderedAuthors(t *testing.T) {
	names, insertOrder := orderedAuthors([]string{"Zed", " Amy ", "", "Zed", "Bob"})

	assert.Equal(t, []string{"Zed", "Amy", "Bob"}, names)
	assert.Equal(t, []string{"Amy", "Bob", "Zed"}, insertOrder)

	names, insertOrder = orderedAuthors(nil)
	assert.Empty(t, names)
	assert.Empty(t, insertOrder)
}

func TestUpsertPaper_ConcurrentOppositeAuthorOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			authors := []string{"X Author", "Y Author"}
			if i%2 == 1 {
				authors = []string{"Y Author", "X Author"}
			}
			_, _, err := s.UpsertPaper(ctx, record(fmt.Sprintf("p%d", i), authors...))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 8, countRows(t, s, &models.Paper{}))
	assert.EqualValues(t, 2, countRows(t, s, &models.Author{}))

	odd, err := s.GetByExternalID(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, odd.Authors, 2)
	assert.Equal(t, "Y Author", odd.Authors[0].Name)
	assert.Equal(t, "X Author", odd.Authors[1].Name)
}

func TestUpsertPaper_SkipsSelfCitations(t *testing.T) {
	s := newTestStore(t)
	rec := record("1")
	rec.Citations = []string{"1", "", "2", "2"}

	_, _, err := s.UpsertPaper(context.Background(), rec)
	require.NoError(t, err)

	edges, err := s.Citations(context.Background())
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "1", edges[0].CitingPaperID)
	assert.Equal(t, "2", edges[0].CitedPaperID)
}

func TestUpsertPaper_Validation(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.UpsertPaper(context.Background(), record(""))
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)

	rec := record("1")
	rec.Title = ""
	_, _, err = s.UpsertPaper(context.Background(), rec)
	assert.ErrorAs(t, err, &validation)
}

func TestUpsertPaper_ConcurrentSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[uint]bool{}
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, c, err := s.UpsertPaper(ctx, record("42", "Shared Author"))
			assert.NoError(t, err)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[p.ID] = true
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
	assert.EqualValues(t, 1, countRows(t, s, &models.Paper{}))
	assert.EqualValues(t, 1, countRows(t, s, &models.Author{}))
}

func TestUpsertAuthor_ConcurrentSameName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]uint, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.UpsertAuthor(ctx, "Jane Doe")
			if assert.NoError(t, err) {
				results[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
	assert.EqualValues(t, 1, countRows(t, s, &models.Author{}))

	_, err := s.UpsertAuthor(ctx, "  ")
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestUpsertAuthor_CancelledContextIsNoConflict(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.UpsertAuthor(ctx, "Jane Doe")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var conflict *apperrors.StoreConflictError
	assert.False(t, errors.As(err, &conflict))
	_, status := apperrors.Classify(err)
	assert.NotEqual(t, http.StatusConflict, status)
}

func TestGetByExternalID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetByExternalID(context.Background(), "missing")

	assert.True(t, apperrors.IsNotFound(err))
}

func TestList_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, _, err := s.UpsertPaper(ctx, record(id, "Author "+id))
		require.NoError(t, err)
	}

	page, err := s.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ExternalID)
	assert.Equal(t, "c", page[1].ExternalID)
	require.Len(t, page[0].Authors, 1)
	assert.Equal(t, "Author b", page[0].Authors[0].Name)

	empty, err := s.List(ctx, 10, 2)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = s.List(ctx, -1, 2)
	assert.Error(t, err)
	_, err = s.List(ctx, 0, 0)
	assert.Error(t, err)
}

func TestExternalIDsAndCitations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := record("a")
	a.Citations = []string{"x"}
	_, _, err := s.UpsertPaper(ctx, a)
	require.NoError(t, err)
	_, _, err = s.UpsertPaper(ctx, record("b"))
	require.NoError(t, err)

	ids, err := s.ExternalIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	edges, err := s.Citations(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "x", edges[0].CitedPaperID)
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, q := range []string{"older", "newer"} {
		run := &models.IngestionRun{
			ID:             uuid.New(),
			Query:          q,
			Limit:          5,
			ProcessedCount: i,
			Errors:         datatypes.JSON(`[]`),
			StartedAt:      start.Add(time.Duration(i) * time.Hour),
			FinishedAt:     start.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		require.NoError(t, s.SaveRun(ctx, run))
	}

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].Query)
	assert.Equal(t, 5, runs[0].Limit)

	require.NoError(t, s.Ping(ctx))
}
