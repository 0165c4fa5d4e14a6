// Package articles persists curated research articles in SQLite: search hits
// enter as unprocessed rows, the curation path scores and summarizes them,
// and daily statistics aggregate over the result.
package articles

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

// Article is one stored article row.
type Article struct {
	ID              int64
	Title           string
	URL             string
	Source          string
	PublicationDate string
	DiscoveryDate   string
	Summary         string
	RelevanceScore  float64
	Keywords        []string
	ContentSnippet  string
	Processed       bool
}

// DailyStats is one row of the per-day aggregate table.
type DailyStats struct {
	ID                int64
	Date              string
	ArticlesFound     int
	ArticlesProcessed int
	AvgScore          float64
	TopKeywords       []string
}

// Store is the SQLite-backed article database.
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
	clock  func() time.Time

	mu sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    url TEXT UNIQUE NOT NULL,
    source TEXT,
    publication_date TEXT,
    discovery_date TEXT NOT NULL,
    summary TEXT,
    relevance_score REAL DEFAULT 0,
    keywords TEXT,
    content_snippet TEXT,
    processed INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_articles_discovery_date
ON articles(discovery_date);

CREATE TABLE IF NOT EXISTS statistics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    articles_found INTEGER,
    articles_processed INTEGER,
    avg_score REAL,
    top_keywords TEXT
);
`

// NewStore opens (creating if needed) the article database at path. The
// special path ":memory:" creates an in-memory database.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.StorageFailed, "failed to create database directory"),
				errors.Fields{"path": path})
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open article database"),
			errors.Fields{"path": path})
	}

	store := &Store{
		db:     db,
		path:   path,
		logger: logging.GetLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to enable WAL mode")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to initialize article schema")
	}

	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to close article database")
	}
	return nil
}

// Add inserts an article unless its URL is already present. It returns the
// row id and whether the row is new. A missing discovery date defaults to
// now.
func (s *Store) Add(ctx context.Context, article Article) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, errors.Wrap(err, errors.StorageFailed, "failed to begin transaction")
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Error(ctx, "failed to rollback transaction: %v", err)
		}
	}()

	var existingID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM articles WHERE url = ?", article.URL).Scan(&existingID)
	if err == nil {
		s.logger.Debug(ctx, "article already stored: %s", article.URL)
		return existingID, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to check for existing article"),
			errors.Fields{"url": article.URL})
	}

	if article.DiscoveryDate == "" {
		article.DiscoveryDate = s.clock().Format(time.RFC3339)
	}

	result, err := tx.ExecContext(ctx, `
        INSERT INTO articles (
            title, url, source, publication_date, discovery_date,
            summary, relevance_score, keywords, content_snippet, processed
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		article.Title, article.URL, article.Source, article.PublicationDate,
		article.DiscoveryDate, article.Summary, article.RelevanceScore,
		encodeKeywords(article.Keywords), article.ContentSnippet, article.Processed)
	if err != nil {
		return 0, false, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to insert article"),
			errors.Fields{"url": article.URL})
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, errors.Wrap(err, errors.StorageFailed, "failed to read inserted id")
	}

	if err := tx.Commit(); err != nil {
		return 0, false, errors.Wrap(err, errors.StorageFailed, "failed to commit transaction")
	}

	s.logger.Info(ctx, "stored new article: %s", article.Title)
	return id, true, nil
}

// MarkProcessed records the curation result for an article.
func (s *Store) MarkProcessed(ctx context.Context, id int64, summary string, score float64, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
        UPDATE articles
        SET processed = 1, summary = ?, relevance_score = ?, keywords = ?
        WHERE id = ?`,
		summary, score, encodeKeywords(keywords), id)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to mark article processed"),
			errors.Fields{"id": id})
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.WithFields(
			errors.New(errors.ResourceNotFound, "article not found"),
			errors.Fields{"id": id})
	}
	return nil
}

// Unprocessed returns articles awaiting curation, newest discoveries first.
func (s *Store) Unprocessed(ctx context.Context, limit int) ([]Article, error) {
	return s.query(ctx, `
        SELECT id, title, url, source, publication_date, discovery_date,
               summary, relevance_score, keywords, content_snippet, processed
        FROM articles
        WHERE processed = 0
        ORDER BY discovery_date DESC
        LIMIT ?`, limit)
}

// Recent returns the most recently discovered processed articles.
func (s *Store) Recent(ctx context.Context, limit int) ([]Article, error) {
	return s.query(ctx, `
        SELECT id, title, url, source, publication_date, discovery_date,
               summary, relevance_score, keywords, content_snippet, processed
        FROM articles
        WHERE processed = 1
        ORDER BY discovery_date DESC
        LIMIT ?`, limit)
}

// Search matches processed articles by title, summary, or snippet, best
// scores first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Article, error) {
	pattern := "%" + query + "%"
	return s.query(ctx, `
        SELECT id, title, url, source, publication_date, discovery_date,
               summary, relevance_score, keywords, content_snippet, processed
        FROM articles
        WHERE processed = 1
          AND (title LIKE ? OR summary LIKE ? OR content_snippet LIKE ?)
        ORDER BY relevance_score DESC
        LIMIT ?`, pattern, pattern, pattern, limit)
}

// Counts returns the total and processed article counts.
func (s *Store) Counts(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, processed int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(processed), 0) FROM articles`).Scan(&total, &processed)
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.StorageFailed, "failed to count articles")
	}
	return total, processed, nil
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query articles")
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var a Article
		var keywords string
		var processed int
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &a.Source, &a.PublicationDate,
			&a.DiscoveryDate, &a.Summary, &a.RelevanceScore, &keywords,
			&a.ContentSnippet, &processed); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan article row")
		}
		a.Keywords = decodeKeywords(keywords)
		a.Processed = processed != 0
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating article rows")
	}
	return articles, nil
}

// UpdateDailyStats recomputes today's row in the statistics table.
func (s *Store) UpdateDailyStats(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.clock().Format("2006-01-02")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to begin transaction")
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Error(ctx, "failed to rollback transaction: %v", err)
		}
	}()

	var found, processed int
	var avgScore float64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM articles WHERE DATE(discovery_date) = ?", today).Scan(&found); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to count articles found")
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(relevance_score), 0) FROM articles WHERE DATE(discovery_date) = ? AND processed = 1",
		today).Scan(&processed, &avgScore); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to count processed articles")
	}

	topKeywords, err := s.topKeywords(ctx, tx, today)
	if err != nil {
		return err
	}

	var existingID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM statistics WHERE date = ?", today).Scan(&existingID)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
            UPDATE statistics
            SET articles_found = ?, articles_processed = ?, avg_score = ?, top_keywords = ?
            WHERE id = ?`,
			found, processed, avgScore, encodeKeywords(topKeywords), existingID)
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
            INSERT INTO statistics (date, articles_found, articles_processed, avg_score, top_keywords)
            VALUES (?, ?, ?, ?, ?)`,
			today, found, processed, avgScore, encodeKeywords(topKeywords))
	default:
		return errors.Wrap(err, errors.StorageFailed, "failed to check existing statistics")
	}
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to write statistics"),
			errors.Fields{"date": today})
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to commit transaction")
	}

	s.logger.Debug(ctx, "updated article statistics for %s", today)
	return nil
}

// topKeywords returns the five most frequent keywords among the day's
// processed articles, ties broken alphabetically.
func (s *Store) topKeywords(ctx context.Context, tx *sql.Tx, date string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT keywords FROM articles WHERE DATE(discovery_date) = ? AND processed = 1", date)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query keywords")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan keywords")
		}
		for _, kw := range decodeKeywords(raw) {
			counts[kw]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating keyword rows")
	}

	keywords := make([]string, 0, len(counts))
	for kw := range counts {
		keywords = append(keywords, kw)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return keywords, nil
}

// Stats returns the most recent daily statistics rows.
func (s *Store) Stats(ctx context.Context, days int) ([]DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, date, articles_found, articles_processed, avg_score, top_keywords
        FROM statistics
        ORDER BY date DESC
        LIMIT ?`, days)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query statistics")
	}
	defer rows.Close()

	var stats []DailyStats
	for rows.Next() {
		var st DailyStats
		var keywords string
		if err := rows.Scan(&st.ID, &st.Date, &st.ArticlesFound, &st.ArticlesProcessed,
			&st.AvgScore, &keywords); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan statistics row")
		}
		st.TopKeywords = decodeKeywords(keywords)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating statistics rows")
	}
	return stats, nil
}

func encodeKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return "[]"
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeKeywords(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
		return nil
	}
	return keywords
}
