package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meowroast/internal/models"
	"meowroast/internal/redis"
)

// ErrUnavailable means the underlying store could not serve the operation.
// Store failures are fatal to the enclosing request; there is no local retry.
var ErrUnavailable = errors.New("submission store unavailable")

const (
	// DefaultHistoryLimit bounds history queries when the caller passes no limit.
	DefaultHistoryLimit = 10

	historyCachePrefix = "history:"
	historyCacheTTL    = time.Minute
)

// PhotoStore persists submission records and serves per-user history. cache
// is optional; when nil every history query hits the database.
type PhotoStore struct {
	db    *sql.DB
	cache *redis.Client
}

// NewPhotoStore constructs the store.
func NewPhotoStore(db *sql.DB, cache *redis.Client) *PhotoStore {
	return &PhotoStore{db: db, cache: cache}
}

// Save inserts one record. There is no dedup check: resubmitting the same
// image produces a second record with its own id and timestamp.
func (s *PhotoStore) Save(ctx context.Context, userID, userName, imageURL, comment string, isDefault bool) (*models.Photo, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO photos (user_id, user_name, image_url, ai_comment, is_default, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, userName, imageURL, comment, isDefault, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert photo: %v", ErrUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: photo id: %v", ErrUnavailable, err)
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, historyCachePrefix+userID)
	}
	return &models.Photo{
		ID:        id,
		UserID:    userID,
		UserName:  userName,
		ImageURL:  imageURL,
		AIComment: comment,
		IsDefault: isDefault,
		CreatedAt: now,
	}, nil
}

// History returns the caller's own records, newest first, truncated to limit.
// A cached result may trail the database by up to a minute; the product makes
// no strict read-after-write promise for history.
func (s *PhotoStore) History(ctx context.Context, userID string, limit int) ([]models.Photo, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	cacheKey := historyCachePrefix + userID
	if s.cache != nil && limit == DefaultHistoryLimit {
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.Photo
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_name, image_url, ai_comment, is_default, created_at
		 FROM photos WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list photos: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	photos := make([]models.Photo, 0, limit)
	for rows.Next() {
		var p models.Photo
		if err := rows.Scan(&p.ID, &p.UserID, &p.UserName, &p.ImageURL, &p.AIComment, &p.IsDefault, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan photo: %v", ErrUnavailable, err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if s.cache != nil && limit == DefaultHistoryLimit {
		if encoded, err := json.Marshal(photos); err == nil {
			_ = s.cache.Set(ctx, cacheKey, encoded, historyCacheTTL)
		}
	}
	return photos, nil
}
