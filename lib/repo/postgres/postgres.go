/*
 * FIAP X Video Processor
 * Copyright (C) 2025  FIAP X
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package postgres implements the video repository on PostgreSQL.
//
// The status column is the concurrency primitive: every video update is
// conditional on the expected current status, so concurrent actors racing
// through the lifecycle serialize on the database instead of process locks.
package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/video"
)

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id UUID PRIMARY KEY,
	user_id UUID,
	total_size_bytes BIGINT NOT NULL,
	duration_ms BIGINT NOT NULL,
	filename TEXT NOT NULL,
	extension TEXT NOT NULL,
	status TEXT NOT NULL,
	upload_id TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	bucket TEXT NOT NULL,
	part_size BIGINT NOT NULL,
	total_parts INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS videos_object_key_idx ON videos (object_key);

CREATE TABLE IF NOT EXISTS video_parts (
	video_id UUID NOT NULL REFERENCES videos (id),
	part_number INT NOT NULL,
	size_bytes BIGINT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	etag TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	PRIMARY KEY (video_id, part_number)
);
`

// Config holds the postgres repository configuration.
type Config struct {
	// ConnString is a pgx connection string or URL.
	ConnString string
	// Logger emits repository logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("missing postgres connection string")
	}
	if c.Logger == nil {
		c.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentRepository)
	}
	return nil
}

// Repository is a PostgreSQL-backed video repository.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New connects to postgres and bootstraps the schema.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, trace.ConnectionProblem(err, "bootstrapping schema")
	}
	cfg.Logger.InfoContext(ctx, "Connected to postgres repository.")
	return &Repository{pool: pool, log: cfg.Logger}, nil
}

// CreateVideo implements repo.Repository. The video row and all
// materialized part rows are written in one transaction.
func (r *Repository) CreateVideo(ctx context.Context, v *video.Video) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return trace.ConnectionProblem(err, "beginning transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO videos (id, user_id, total_size_bytes, duration_ms, filename, extension,
			status, upload_id, object_key, bucket, part_size, total_parts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		v.ID, nullableUUID(v.UserID), v.Metadata.TotalSizeBytes, v.Metadata.DurationMs,
		v.Metadata.Filename, v.Metadata.Extension, string(v.Status), v.Storage.UploadID,
		v.Storage.ObjectKey, v.Storage.Bucket, v.PartSize, v.TotalParts, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return trace.AlreadyExists("video %s already exists", v.ID)
		}
		return trace.Wrap(err)
	}

	if err := insertParts(ctx, tx, v.ID, v.Parts); err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(tx.Commit(ctx))
}

// GetVideo implements repo.Repository.
func (r *Repository) GetVideo(ctx context.Context, id string) (*video.Video, error) {
	return r.getVideo(ctx, "id = $1", id)
}

// GetVideoByObjectKey implements repo.Repository.
func (r *Repository) GetVideoByObjectKey(ctx context.Context, objectKey string) (*video.Video, error) {
	return r.getVideo(ctx, "object_key = $1", objectKey)
}

func (r *Repository) getVideo(ctx context.Context, where string, arg any) (*video.Video, error) {
	v := &video.Video{}
	var userID *string
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, total_size_bytes, duration_ms, filename, extension,
			status, upload_id, object_key, bucket, part_size, total_parts, created_at, updated_at
		FROM videos WHERE `+where, arg).Scan(
		&v.ID, &userID, &v.Metadata.TotalSizeBytes, &v.Metadata.DurationMs,
		&v.Metadata.Filename, &v.Metadata.Extension, &status, &v.Storage.UploadID,
		&v.Storage.ObjectKey, &v.Storage.Bucket, &v.PartSize, &v.TotalParts,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("video not found")
		}
		return nil, trace.ConnectionProblem(err, "querying video")
	}
	if userID != nil {
		v.UserID = *userID
	}
	v.Status = video.Status(status)

	rows, err := r.pool.Query(ctx, `
		SELECT part_number, size_bytes, url, etag, status
		FROM video_parts WHERE video_id = $1 ORDER BY part_number`, v.ID)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "querying parts")
	}
	var p video.Part
	var partStatus string
	_, err = pgx.ForEachRow(rows, []any{&p.PartNumber, &p.SizeBytes, &p.URL, &p.ETag, &partStatus}, func() error {
		p.Status = video.PartStatus(partStatus)
		v.Parts = append(v.Parts, p)
		return nil
	})
	if err != nil {
		return nil, trace.ConnectionProblem(err, "scanning parts")
	}
	return v, nil
}

// UpdateVideo implements repo.Repository. The WHERE clause on the current
// status makes the write a compare-and-swap; zero affected rows on an
// existing video means a concurrent writer got there first.
func (r *Repository) UpdateVideo(ctx context.Context, v *video.Video, expectedStatus video.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		v.ID, string(v.Status), v.UpdatedAt, string(expectedStatus))
	if err != nil {
		return trace.ConnectionProblem(err, "updating video")
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := r.pool.QueryRow(ctx, `SELECT status FROM videos WHERE id = $1`, v.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return trace.NotFound("video %s not found", v.ID)
		}
		if err != nil {
			return trace.ConnectionProblem(err, "querying video status")
		}
		return trace.CompareFailed("video %s status is %s, expected %s", v.ID, current, expectedStatus)
	}
	return nil
}

// UpdateVideoPart implements repo.Repository.
func (r *Repository) UpdateVideoPart(ctx context.Context, videoID string, part video.Part) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE video_parts SET size_bytes = $3, url = $4, etag = $5, status = $6
		WHERE video_id = $1 AND part_number = $2`,
		videoID, part.PartNumber, part.SizeBytes, part.URL, part.ETag, string(part.Status))
	if err != nil {
		return trace.ConnectionProblem(err, "updating part")
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("part %d not found on video %s", part.PartNumber, videoID)
	}
	return nil
}

// AddVideoParts implements repo.Repository.
func (r *Repository) AddVideoParts(ctx context.Context, videoID string, parts []video.Part) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return trace.ConnectionProblem(err, "beginning transaction")
	}
	defer tx.Rollback(ctx)
	if err := insertParts(ctx, tx, videoID, parts); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit(ctx))
}

// Ping implements repo.Repository.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return trace.ConnectionProblem(err, "pinging postgres")
	}
	return nil
}

// Close implements repo.Repository.
func (r *Repository) Close() {
	r.pool.Close()
}

func insertParts(ctx context.Context, tx pgx.Tx, videoID string, parts []video.Part) error {
	if len(parts) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(parts))
	for _, p := range parts {
		rows = append(rows, []any{videoID, p.PartNumber, p.SizeBytes, p.URL, p.ETag, string(p.Status)})
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"video_parts"},
		[]string{"video_id", "part_number", "size_bytes", "url", "etag", "status"},
		pgx.CopyFromRows(rows))
	if err != nil {
		if isUniqueViolation(err) {
			return trace.AlreadyExists("duplicate part on video %s", videoID)
		}
		return trace.Wrap(err)
	}
	return nil
}

func nullableUUID(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation detects the 23505 SQLSTATE without importing pgconn
// error internals at every call site.
func isUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var st sqlState
	return errors.As(err, &st) && st.SQLState() == "23505"
}
