// Package storage enthält die Persistenz: den Paper-Store auf PostgreSQL (GORM)
// und das S3-Archiv für rohe Artikel-XMLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"citation-finder/apperrors"
	"citation-finder/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const lockStripes = 64

// keyLocks serialisiert find-then-create pro Schlüssel innerhalb des Prozesses.
// Prozessübergreifend greifen die Unique-Constraints.
type keyLocks [lockStripes]sync.Mutex

func (l *keyLocks) get(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l[h.Sum32()%lockStripes]
}

// Store kapselt Papers, Autoren, Zitationen und Ingestion-Runs.
type Store struct {
	DB     *gorm.DB
	Logger *zap.Logger
	locks  keyLocks
}

// NewStore erstellt einen Store. Die DB sollte mit TranslateError: true geöffnet sein,
// damit Unique-Verletzungen als gorm.ErrDuplicatedKey ankommen.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{DB: db, Logger: logger}
}

// Migrate legt die Tabellen an bzw. aktualisiert sie.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(
		&models.Paper{},
		&models.Author{},
		&models.PaperAuthor{},
		&models.Citation{},
		&models.IngestionRun{},
	)
}

// Ping prüft die Datenbankverbindung.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertAuthor liefert den Autor mit exakt diesem Namen und legt ihn bei Bedarf an.
func (s *Store) UpsertAuthor(ctx context.Context, name string) (*models.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("name", "author name is empty")
	}
	mu := s.locks.get("author:" + name)
	mu.Lock()
	defer mu.Unlock()

	author, err := findOrCreateAuthor(s.DB.WithContext(ctx), name)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &apperrors.StoreConflictError{Key: "author:" + name, Err: err}
		}
		return nil, fmt.Errorf("upsert author %q: %w", name, err)
	}
	return author, nil
}

// findOrCreateAuthor ist konfliktfrei: ein paralleles Insert führt zu DO NOTHING und dem erneuten Lesen.
func findOrCreateAuthor(tx *gorm.DB, name string) (*models.Author, error) {
	var author models.Author
	err := tx.Where("name = ?", name).First(&author).Error
	if err == nil {
		return &author, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&models.Author{Name: name}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("name = ?", name).First(&author).Error; err != nil {
		return nil, err
	}
	return &author, nil
}

// UpsertPaper legt das Paper samt Autoren und ausgehenden Zitationen in einer Transaktion an.
// Existiert die externe ID bereits, wird die vorhandene Zeile unverändert zurückgegeben
// (first-write-wins). created meldet, ob eine neue Zeile entstanden ist.
func (s *Store) UpsertPaper(ctx context.Context, rec *models.Record) (paper *models.Paper, created bool, err error) {
	if rec == nil || strings.TrimSpace(rec.ExternalID) == "" {
		return nil, false, apperrors.Validation("external_id", "record has no external id")
	}
	if strings.TrimSpace(rec.Title) == "" {
		return nil, false, apperrors.Validation("title", "record has no title")
	}
	id := rec.ExternalID
	mu := s.locks.get("paper:" + id)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.GetByExternalID(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, false, err
	}

	paper = &models.Paper{
		ExternalID:      id,
		DOI:             rec.DOI,
		Title:           rec.Title,
		Abstract:        rec.Abstract,
		Journal:         rec.Journal,
		PublicationDate: rec.PublicationDate,
		FullText:        rec.FullText,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(paper).Error; err != nil {
			return err
		}
		names, insertOrder := orderedAuthors(rec.Authors)
		// Anlegen in Namensreihenfolge: parallele Transaktionen sperren die
		// Unique-Einträge von authors.name dann immer in derselben Reihenfolge.
		resolved := make(map[string]models.Author, len(insertOrder))
		for _, name := range insertOrder {
			author, err := findOrCreateAuthor(tx, name)
			if err != nil {
				return fmt.Errorf("author %q: %w", name, err)
			}
			resolved[name] = *author
		}
		for pos, name := range names {
			author := resolved[name]
			link := models.PaperAuthor{PaperID: paper.ID, AuthorID: author.ID, Position: pos}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("link author %q: %w", name, err)
			}
			paper.Authors = append(paper.Authors, author)
		}
		if edges := citationRows(id, rec.Citations); len(edges) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error; err != nil {
				return fmt.Errorf("citations: %w", err)
			}
		}
		return nil
	})
	if err == nil {
		return paper, true, nil
	}

	// Ein anderer Prozess war schneller: einmal erneut lesen.
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		s.Logger.Warn("Konflikt beim Anlegen des Papers, lese erneut", zap.String("pmid", id), zap.Error(err))
		if existing, ferr := s.GetByExternalID(ctx, id); ferr == nil {
			return existing, false, nil
		}
		return nil, false, &apperrors.StoreConflictError{Key: "paper:" + id, Err: err}
	}
	return nil, false, fmt.Errorf("upsert paper %s: %w", id, err)
}

// orderedAuthors liefert die bereinigten Namen ohne Duplikate in Quellreihenfolge
// sowie dieselben Namen sortiert als Einfügereihenfolge.
func orderedAuthors(raw []string) (names, insertOrder []string) {
	seen := make(map[string]bool, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	insertOrder = append([]string(nil), names...)
	sort.Strings(insertOrder)
	return names, insertOrder
}

// citationRows baut die Kanten ohne Selbstzitate, Leer-IDs und Duplikate.
func citationRows(citing string, cited []string) []models.Citation {
	var rows []models.Citation
	seen := make(map[string]bool, len(cited))
	for _, c := range cited {
		c = strings.TrimSpace(c)
		if c == "" || c == citing || seen[c] {
			continue
		}
		seen[c] = true
		rows = append(rows, models.Citation{CitingPaperID: citing, CitedPaperID: c})
	}
	return rows
}

// GetByExternalID lädt ein Paper inklusive der Autoren in Quellreihenfolge.
func (s *Store) GetByExternalID(ctx context.Context, id string) (*models.Paper, error) {
	var paper models.Paper
	if err := s.DB.WithContext(ctx).Where("external_id = ?", id).First(&paper).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("paper", id)
		}
		return nil, err
	}
	papers := []models.Paper{paper}
	if err := s.attachAuthors(ctx, papers); err != nil {
		return nil, err
	}
	return &papers[0], nil
}

// List liefert eine Seite Papers, stabil nach ID sortiert.
func (s *Store) List(ctx context.Context, offset, limit int) ([]models.Paper, error) {
	if offset < 0 {
		return nil, apperrors.Validation("skip", "must not be negative")
	}
	if limit <= 0 {
		return nil, apperrors.Validation("limit", "must be positive")
	}
	papers := []models.Paper{}
	if err := s.DB.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&papers).Error; err != nil {
		return nil, err
	}
	if err := s.attachAuthors(ctx, papers); err != nil {
		return nil, err
	}
	return papers, nil
}

type authorRow struct {
	PaperID   uint
	ID        uint
	Name      string
	CreatedAt time.Time
}

// attachAuthors lädt die Autoren aller übergebenen Papers mit einer Abfrage.
func (s *Store) attachAuthors(ctx context.Context, papers []models.Paper) error {
	if len(papers) == 0 {
		return nil
	}
	ids := make([]uint, len(papers))
	index := make(map[uint]int, len(papers))
	for i := range papers {
		ids[i] = papers[i].ID
		index[papers[i].ID] = i
		papers[i].Authors = []models.Author{}
	}
	var rows []authorRow
	err := s.DB.WithContext(ctx).
		Table("paper_authors").
		Select("paper_authors.paper_id, authors.id, authors.name, authors.created_at").
		Joins("JOIN authors ON authors.id = paper_authors.author_id").
		Where("paper_authors.paper_id IN ?", ids).
		Order("paper_authors.paper_id, paper_authors.position").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("load authors: %w", err)
	}
	for _, r := range rows {
		i := index[r.PaperID]
		papers[i].Authors = append(papers[i].Authors, models.Author{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt})
	}
	return nil
}

// ExternalIDs liefert alle gespeicherten Paper-IDs (für den Graph-Aufbau beim Start).
func (s *Store) ExternalIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.Paper{}).Order("id ASC").Pluck("external_id", &ids).Error
	return ids, err
}

// Citations liefert alle gespeicherten Kanten.
func (s *Store) Citations(ctx context.Context) ([]models.Citation, error) {
	var edges []models.Citation
	err := s.DB.WithContext(ctx).Order("citing_paper_id, cited_paper_id").Find(&edges).Error
	return edges, err
}

// SaveRun speichert das Protokoll eines Pipeline-Durchlaufs.
func (s *Store) SaveRun(ctx context.Context, run *models.IngestionRun) error {
	return s.DB.WithContext(ctx).Create(run).Error
}

// ListRuns liefert die letzten Durchläufe, neueste zuerst.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 {
		return nil, apperrors.Validation("limit", "must be positive")
	}
	runs := []models.IngestionRun{}
	err := s.DB.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
