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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/fiapx/videoproc/lib/video"
)

func newVideo(t *testing.T) *video.Video {
	t.Helper()
	v, err := video.New("vid-1", "user-1", video.Metadata{TotalSizeBytes: 64 << 20},
		video.StorageInfo{ObjectKey: "video/vid-1/file/a.mp4", Bucket: "uploads"},
		32<<20, 2, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = v.MaterializePartsThrough(2)
	require.NoError(t, err)
	return v
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := New()

	v := newVideo(t)
	require.NoError(t, r.CreateVideo(ctx, v))
	err := r.CreateVideo(ctx, v)
	require.True(t, trace.IsAlreadyExists(err))

	got, err := r.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Equal(t, v.ID, got.ID)
	require.Len(t, got.Parts, 2)

	_, err = r.GetVideo(ctx, "nope")
	require.True(t, trace.IsNotFound(err))

	got, err = r.GetVideoByObjectKey(ctx, "video/vid-1/file/a.mp4")
	require.NoError(t, err)
	require.Equal(t, "vid-1", got.ID)

	_, err = r.GetVideoByObjectKey(ctx, "video/other/file/b.mp4")
	require.True(t, trace.IsNotFound(err))
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := New()
	require.NoError(t, r.CreateVideo(ctx, newVideo(t)))

	got, err := r.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	got.Status = video.StatusFailed
	got.Parts[0].ETag = "mutated"

	fresh, err := r.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Equal(t, video.StatusCreated, fresh.Status)
	require.Empty(t, fresh.Parts[0].ETag)
}

func TestConditionalUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := New()
	require.NoError(t, r.CreateVideo(ctx, newVideo(t)))

	v, err := r.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.NoError(t, v.StartUploadingIfNeeded(time.Now()))
	require.NoError(t, r.UpdateVideo(ctx, v, video.StatusCreated))

	// A second writer that still believes the status is CREATED loses.
	stale := newVideo(t)
	stale.Status = video.StatusUploading
	err = r.UpdateVideo(ctx, stale, video.StatusCreated)
	require.True(t, trace.IsCompareFailed(err))

	missing := newVideo(t)
	missing.ID = "ghost"
	err = r.UpdateVideo(ctx, missing, video.StatusCreated)
	require.True(t, trace.IsNotFound(err))
}

func TestUpdateAndAddParts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := New()
	v := newVideo(t)
	require.NoError(t, r.CreateVideo(ctx, v))

	part := v.Parts[0]
	part.ETag = "etag-1"
	part.Status = video.PartUploaded
	require.NoError(t, r.UpdateVideoPart(ctx, "vid-1", part))

	got, err := r.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Equal(t, "etag-1", got.Parts[0].ETag)

	err = r.UpdateVideoPart(ctx, "vid-1", video.Part{PartNumber: 9})
	require.True(t, trace.IsNotFound(err))

	require.NoError(t, r.AddVideoParts(ctx, "vid-1", []video.Part{{PartNumber: 3, Status: video.PartPending}}))
	err = r.AddVideoParts(ctx, "vid-1", []video.Part{{PartNumber: 3}})
	require.True(t, trace.IsAlreadyExists(err))

	got, err = r.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Len(t, got.Parts, 3)
}
