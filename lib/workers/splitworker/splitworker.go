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

// Package splitworker consumes UPLOADED events and splits the source
// video into fixed-duration segments.
package splitworker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/correlation"
	"github.com/fiapx/videoproc/lib/defaults"
	"github.com/fiapx/videoproc/lib/eventbus"
	"github.com/fiapx/videoproc/lib/queue"
	"github.com/fiapx/videoproc/lib/repo"
	"github.com/fiapx/videoproc/lib/storagepath"
	"github.com/fiapx/videoproc/lib/video"
	"github.com/fiapx/videoproc/lib/workers"
	"github.com/fiapx/videoproc/lib/workspace"
)

// workspaceTag names this worker's scratch directories under the root.
const workspaceTag = "split-worker"

type blobStore interface {
	Download(ctx context.Context, bucket, key, destPath string) error
	UploadDir(ctx context.Context, bucket, keyPrefix, dir, pattern string) ([]string, error)
}

type segmenter interface {
	Segment(ctx context.Context, input, outDir string, segmentDuration time.Duration) error
}

// Config configures the split worker handler.
type Config struct {
	// Repository persists videos (required).
	Repository repo.Repository
	// Blob moves objects between the store and the workspace (required).
	Blob blobStore
	// Media runs the segmenter (required).
	Media segmenter
	// Events publishes lifecycle events (required).
	Events *eventbus.Publisher
	// OutputBucket receives the produced segments (required).
	OutputBucket string
	// InputBucket restricts which bucket events may point at. Empty
	// accepts any bucket.
	InputBucket string
	// SegmentDuration is the length of each produced segment.
	SegmentDuration time.Duration
	// WorkspaceRoot is where scratch directories are created.
	WorkspaceRoot string
	// Logger emits worker logs.
	Logger *slog.Logger
	// Clock stamps status transitions.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the configuration.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Repository == nil {
		return trace.BadParameter("missing repository")
	}
	if cfg.Blob == nil {
		return trace.BadParameter("missing blob store")
	}
	if cfg.Media == nil {
		return trace.BadParameter("missing media runner")
	}
	if cfg.Events == nil {
		return trace.BadParameter("missing event publisher")
	}
	if cfg.OutputBucket == "" {
		return trace.BadParameter("missing output bucket")
	}
	if cfg.SegmentDuration == 0 {
		cfg.SegmentDuration = defaults.SegmentDuration
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = defaults.WorkspaceRoot
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentSplitWorker)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler processes UPLOADED events.
type Handler struct {
	cfg Config
}

// NewHandler returns a split worker handler.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Handler{cfg: cfg}, nil
}

// Parse implements queue.Handler. Events for other stages parse to nil:
// in bypass mode every stage shares one queue, and acknowledging a
// foreign event here would delete it before its own consumer sees it.
func (h *Handler) Parse(raw []byte) (*eventbus.StatusChangedEvent, error) {
	env, err := queue.DecodeEnvelope[eventbus.StatusChangedEvent](raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if env.Payload.Status != video.StatusUploaded {
		return nil, nil
	}
	return &env.Payload, nil
}

// Correlation extracts the ambient identifiers from the event.
func (h *Handler) Correlation(ev *eventbus.StatusChangedEvent) correlation.Values {
	return correlation.Values{CorrelationID: ev.CorrelationID, TraceID: ev.TraceID}
}

// Handle implements queue.Handler. It segments the source file in a
// scoped workspace, uploads the segments, then claims the outcome with
// the conditional UPLOADED to SPLITTING transition. The transition runs
// last so a transient failure leaves the video claimable by the
// redelivery; a lost claim means another worker finished first.
func (h *Handler) Handle(ctx context.Context, ev *eventbus.StatusChangedEvent) error {
	source, err := storagepath.Parse(ev.VideoPath)
	if err != nil {
		return queue.NonRetryable(trace.Wrap(err))
	}
	if h.cfg.InputBucket != "" && source.Bucket != h.cfg.InputBucket {
		return queue.NonRetryable(trace.BadParameter("video %s is stored in unexpected bucket %q", ev.VideoID, source.Bucket))
	}

	v, err := h.cfg.Repository.GetVideo(ctx, ev.VideoID)
	if err != nil {
		return trace.Wrap(err)
	}
	if v.Status.Reached(video.StatusSplitting) {
		h.cfg.Logger.InfoContext(ctx, "Video already split, skipping.", "video_id", v.ID)
		return nil
	}

	ws, err := workspace.New(h.cfg.WorkspaceRoot, workspaceTag, v.ID, h.cfg.Logger)
	if err != nil {
		return trace.Wrap(err)
	}
	defer ws.Close()

	input := ws.Path("source." + v.Metadata.Extension)
	if err := h.cfg.Blob.Download(ctx, source.Bucket, source.Key(), input); err != nil {
		return trace.Wrap(err)
	}

	partsDir, err := ws.Mkdir("parts")
	if err != nil {
		return trace.Wrap(err)
	}
	if err := h.cfg.Media.Segment(ctx, input, partsDir, h.cfg.SegmentDuration); err != nil {
		return trace.Wrap(err)
	}

	keyPrefix := storagepath.VideoPart(h.cfg.OutputBucket, v.ID, "").Prefix()
	keys, err := h.cfg.Blob.UploadDir(ctx, h.cfg.OutputBucket, keyPrefix, partsDir, "segment_*.mp4")
	if err != nil {
		return trace.Wrap(err)
	}
	if len(keys) == 0 {
		return queue.NonRetryable(trace.BadParameter("segmenter produced no segments for video %s", v.ID))
	}

	if err := h.claim(ctx, v); err != nil {
		if trace.IsCompareFailed(err) {
			h.cfg.Logger.InfoContext(ctx, "Another worker split this video first, skipping.", "video_id", v.ID)
			return nil
		}
		return trace.Wrap(err)
	}

	if err := h.cfg.Events.PublishStatusChanged(ctx, eventbus.StatusChangedEvent{
		VideoID:   v.ID,
		VideoPath: ev.VideoPath,
		Status:    video.StatusSplitting,
		Duration:  ev.Duration,
		VideoName: v.Metadata.Filename,
		UserEmail: ev.UserEmail,
	}); err != nil {
		return trace.Wrap(err)
	}

	h.cfg.Logger.InfoContext(ctx, "Video segmented.",
		"video_id", v.ID,
		"segments", len(keys),
	)
	return nil
}

func (h *Handler) claim(ctx context.Context, v *video.Video) error {
	if err := v.SetStatus(video.StatusSplitting, h.cfg.Clock.Now().UTC()); err != nil {
		// Already past UPLOADED: some other worker owns this video.
		return trace.CompareFailed("video %s is in status %s", v.ID, v.Status)
	}
	return trace.Wrap(h.cfg.Repository.UpdateVideo(ctx, v, video.StatusUploaded))
}

// OnPoison moves the video to FAILED and publishes the terminal event so
// downstream consumers can notify the user.
func (h *Handler) OnPoison(ctx context.Context, ev *eventbus.StatusChangedEvent, handleErr error) {
	workers.FailVideo(ctx, h.cfg.Repository, h.cfg.Events, h.cfg.Logger, h.cfg.Clock, ev, handleErr)
}
