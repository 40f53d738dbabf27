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

// Package memory implements the video repository in process memory. Used
// in tests and for local development without a database.
package memory

import (
	"context"
	"sync"

	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc/lib/video"
)

// Repository is an in-memory video repository safe for concurrent use.
type Repository struct {
	mu     sync.Mutex
	videos map[string]*video.Video
}

// New returns an empty in-memory repository.
func New() *Repository {
	return &Repository{videos: make(map[string]*video.Video)}
}

// CreateVideo implements repo.Repository.
func (r *Repository) CreateVideo(ctx context.Context, v *video.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[v.ID]; ok {
		return trace.AlreadyExists("video %s already exists", v.ID)
	}
	r.videos[v.ID] = clone(v)
	return nil
}

// GetVideo implements repo.Repository.
func (r *Repository) GetVideo(ctx context.Context, id string) (*video.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, trace.NotFound("video %s not found", id)
	}
	return clone(v), nil
}

// GetVideoByObjectKey implements repo.Repository.
func (r *Repository) GetVideoByObjectKey(ctx context.Context, objectKey string) (*video.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.videos {
		if v.Storage.ObjectKey == objectKey {
			return clone(v), nil
		}
	}
	return nil, trace.NotFound("no video with object key %s", objectKey)
}

// UpdateVideo implements repo.Repository with compare-and-swap semantics
// on the status column.
func (r *Repository) UpdateVideo(ctx context.Context, v *video.Video, expectedStatus video.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.videos[v.ID]
	if !ok {
		return trace.NotFound("video %s not found", v.ID)
	}
	if stored.Status != expectedStatus {
		return trace.CompareFailed("video %s status is %s, expected %s", v.ID, stored.Status, expectedStatus)
	}
	stored.Status = v.Status
	stored.Metadata = v.Metadata
	stored.Storage = v.Storage
	stored.UpdatedAt = v.UpdatedAt
	return nil
}

// UpdateVideoPart implements repo.Repository.
func (r *Repository) UpdateVideoPart(ctx context.Context, videoID string, part video.Part) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.videos[videoID]
	if !ok {
		return trace.NotFound("video %s not found", videoID)
	}
	for i := range stored.Parts {
		if stored.Parts[i].PartNumber == part.PartNumber {
			stored.Parts[i] = part
			return nil
		}
	}
	return trace.NotFound("part %d not found on video %s", part.PartNumber, videoID)
}

// AddVideoParts implements repo.Repository.
func (r *Repository) AddVideoParts(ctx context.Context, videoID string, parts []video.Part) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.videos[videoID]
	if !ok {
		return trace.NotFound("video %s not found", videoID)
	}
	for _, p := range parts {
		for _, existing := range stored.Parts {
			if existing.PartNumber == p.PartNumber {
				return trace.AlreadyExists("part %d already exists on video %s", p.PartNumber, videoID)
			}
		}
		stored.Parts = append(stored.Parts, p)
	}
	return nil
}

// Ping implements repo.Repository.
func (r *Repository) Ping(ctx context.Context) error {
	return nil
}

// Close implements repo.Repository.
func (r *Repository) Close() {}

func clone(v *video.Video) *video.Video {
	out := *v
	out.Parts = make([]video.Part, len(v.Parts))
	copy(out.Parts, v.Parts)
	return &out
}
