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

// Package repo defines the video persistence contract.
package repo

import (
	"context"

	"github.com/fiapx/videoproc/lib/video"
)

// Repository persists videos and their parts.
//
// UpdateVideo implements conditional-write semantics keyed on
// (id, expectedStatus): a write racing a newer status returns
// trace.CompareFailed instead of overwriting, which is the primitive the
// idempotent receiver builds on. Callers treat CompareFailed as "a
// concurrent actor already achieved the effect", not as an error.
type Repository interface {
	// CreateVideo persists a new video together with its materialized
	// parts. Returns trace.AlreadyExists on duplicate id.
	CreateVideo(ctx context.Context, v *video.Video) error

	// GetVideo returns the video with the given id, or trace.NotFound.
	GetVideo(ctx context.Context, id string) (*video.Video, error)

	// GetVideoByObjectKey returns the video whose storage object key
	// matches, or trace.NotFound.
	GetVideoByObjectKey(ctx context.Context, objectKey string) (*video.Video, error)

	// UpdateVideo writes the video's status and timestamps if and only if
	// the persisted status still equals expectedStatus. A stale write
	// returns trace.CompareFailed; a missing video returns trace.NotFound.
	UpdateVideo(ctx context.Context, v *video.Video, expectedStatus video.Status) error

	// UpdateVideoPart writes a single part row of the given video.
	UpdateVideoPart(ctx context.Context, videoID string, part video.Part) error

	// AddVideoParts persists a lazily materialized page of parts.
	AddVideoParts(ctx context.Context, videoID string, parts []video.Part) error

	// Ping verifies the datastore is reachable.
	Ping(ctx context.Context) error

	// Close releases held connections.
	Close()
}
