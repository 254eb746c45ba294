package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// CachedImage mirrors one external image post in the local cache.
// Only metadata is held; the image bytes stay with the source.
type CachedImage struct {
	ID           int64     `db:"id" json:"id"`
	PreviewURL   string    `db:"preview_url" json:"preview_url"`
	SampleURL    string    `db:"sample_url" json:"sample_url"`
	Tags         []string  `db:"-" json:"tags"`
	Score        int       `db:"score" json:"score"`
	CommentCount int       `db:"comment_count" json:"comment_count"`
	Rating       string    `db:"rating" json:"rating"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
	TagsJSON     string    `db:"tags" json:"-"`
}

// TagStat holds aggregate popularity signals for a single tag.
type TagStat struct {
	Tag            string    `db:"tag" json:"tag"`
	Count          int       `db:"count" json:"count"`
	Score          int       `db:"score" json:"score"`
	SharedTags     []string  `db:"-" json:"shared_tags"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	SharedTagsJSON string    `db:"shared_tags" json:"-"`
}

// Store is the persistence interface. Increment and set-add operations
// are atomic at the statement level; callers never layer their own
// read-modify-write on top.
type Store interface {
	InsertImage(ctx context.Context, img *CachedImage) error
	GetImage(ctx context.Context, id int64) (*CachedImage, error)
	UpdateImageStats(ctx context.Context, id int64, score, commentCount int, rating string) error
	CountImages(ctx context.Context) (int, error)
	ListImages(ctx context.Context) ([]CachedImage, error)
	SampleImages(ctx context.Context, n int) ([]CachedImage, error)
	ListUnseenImages(ctx context.Context, sessionID string) ([]CachedImage, error)

	UpsertTagStat(ctx context.Context, ts *TagStat) error
	ListTagStats(ctx context.Context) ([]TagStat, error)

	EnsureSession(ctx context.Context, sessionID string) error
	TouchSession(ctx context.Context, sessionID string) error
	IncrTagWeight(ctx context.Context, sessionID, tag string, delta int) error
	AddSeen(ctx context.Context, sessionID string, imageID int64) error
	SessionTags(ctx context.Context, sessionID string) (map[string]int, error)
	SeenImageIDs(ctx context.Context, sessionID string) (map[int64]bool, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertImage(ctx context.Context, img *CachedImage) error {
	tagsJSON, _ := json.Marshal(img.Tags)

	now := time.Now().UTC()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = now
	}
	if img.UpdatedAt.IsZero() {
		img.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_images (id, preview_url, sample_url, tags, score, comment_count, rating, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, img.ID, img.PreviewURL, img.SampleURL, string(tagsJSON),
		img.Score, img.CommentCount, img.Rating, img.CreatedAt, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert image %d: %w", img.ID, err)
	}
	return nil
}

// GetImage returns the cached image or nil when no row exists.
func (s *SQLiteStore) GetImage(ctx context.Context, id int64) (*CachedImage, error) {
	var img CachedImage
	err := s.db.GetContext(ctx, &img, "SELECT * FROM cached_images WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image %d: %w", id, err)
	}
	json.Unmarshal([]byte(img.TagsJSON), &img.Tags)
	return &img, nil
}

// UpdateImageStats refreshes the mutable fields of an existing entry and
// bumps updated_at. Tags and created_at are never touched after insert.
func (s *SQLiteStore) UpdateImageStats(ctx context.Context, id int64, score, commentCount int, rating string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cached_images SET score = ?, comment_count = ?, rating = ?, updated_at = ?
		WHERE id = ?
	`, score, commentCount, rating, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update image stats %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM cached_images"); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// ListImages returns every cached image in ascending id order. The
// ranking path relies on this order being stable across calls.
func (s *SQLiteStore) ListImages(ctx context.Context) ([]CachedImage, error) {
	var images []CachedImage
	if err := s.db.SelectContext(ctx, &images, "SELECT * FROM cached_images ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	decodeTags(images)
	return images, nil
}

// SampleImages draws n images uniformly at random without replacement.
func (s *SQLiteStore) SampleImages(ctx context.Context, n int) ([]CachedImage, error) {
	var images []CachedImage
	err := s.db.SelectContext(ctx, &images,
		"SELECT * FROM cached_images ORDER BY RANDOM() LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("sample images: %w", err)
	}
	decodeTags(images)
	return images, nil
}

// ListUnseenImages returns the cached images not yet shown to the
// session, in ascending id order.
func (s *SQLiteStore) ListUnseenImages(ctx context.Context, sessionID string) ([]CachedImage, error) {
	var images []CachedImage
	err := s.db.SelectContext(ctx, &images, `
		SELECT * FROM cached_images
		WHERE id NOT IN (SELECT image_id FROM session_seen WHERE session_id = ?)
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list unseen images: %w", err)
	}
	decodeTags(images)
	return images, nil
}

func decodeTags(images []CachedImage) {
	for i := range images {
		json.Unmarshal([]byte(images[i].TagsJSON), &images[i].Tags)
	}
}

func (s *SQLiteStore) UpsertTagStat(ctx context.Context, ts *TagStat) error {
	sharedJSON, _ := json.Marshal(ts.SharedTags)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tag_stats (tag, count, score, shared_tags, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			count = excluded.count,
			score = excluded.score,
			shared_tags = excluded.shared_tags,
			updated_at = excluded.updated_at
	`, ts.Tag, ts.Count, ts.Score, string(sharedJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert tag stat %q: %w", ts.Tag, err)
	}
	return nil
}

func (s *SQLiteStore) ListTagStats(ctx context.Context) ([]TagStat, error) {
	var stats []TagStat
	if err := s.db.SelectContext(ctx, &stats, "SELECT * FROM tag_stats ORDER BY score DESC, tag"); err != nil {
		return nil, fmt.Errorf("list tag stats: %w", err)
	}
	for i := range stats {
		json.Unmarshal([]byte(stats[i].SharedTagsJSON), &stats[i].SharedTags)
	}
	return stats, nil
}

// EnsureSession lazily creates the session row on first use.
func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("ensure session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// IncrTagWeight adjusts the session's weight for a tag by delta. A
// missing entry starts at zero, so a first +1 lands at weight 1. The
// increment is a single statement and two concurrent calls both apply.
func (s *SQLiteStore) IncrTagWeight(ctx context.Context, sessionID, tag string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_tags (session_id, tag, weight) VALUES (?, ?, ?)
		ON CONFLICT(session_id, tag) DO UPDATE SET weight = weight + excluded.weight
	`, sessionID, tag, delta)
	if err != nil {
		return fmt.Errorf("incr tag weight %s/%q: %w", sessionID, tag, err)
	}
	return nil
}

// AddSeen records that an image was shown to the session. Adding an id
// already present is a no-op (set semantics).
func (s *SQLiteStore) AddSeen(ctx context.Context, sessionID string, imageID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_seen (session_id, image_id) VALUES (?, ?)
		ON CONFLICT(session_id, image_id) DO NOTHING
	`, sessionID, imageID)
	if err != nil {
		return fmt.Errorf("add seen %s/%d: %w", sessionID, imageID, err)
	}
	return nil
}

// SessionTags returns the session's tag weights. An unknown session
// yields an empty map, not an error.
func (s *SQLiteStore) SessionTags(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT tag, weight FROM session_tags WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("session tags %s: %w", sessionID, err)
	}
	defer rows.Close()

	weights := make(map[string]int)
	for rows.Next() {
		var tag string
		var weight int
		if err := rows.Scan(&tag, &weight); err != nil {
			return nil, err
		}
		weights[tag] = weight
	}
	return weights, rows.Err()
}

func (s *SQLiteStore) SeenImageIDs(ctx context.Context, sessionID string) (map[int64]bool, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT image_id FROM session_seen WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("seen image ids %s: %w", sessionID, err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = true
	}
	return seen, rows.Err()
}
