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

// Package reconcile converges a video onto the UPLOADED status exactly
// once, no matter how many completion signals race for it. The API
// complete call, the S3 webhook and the completion consumer all funnel
// through here; conditional writes guarantee a single winner and a single
// published event.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/correlation"
	"github.com/fiapx/videoproc/lib/eventbus"
	"github.com/fiapx/videoproc/lib/repo"
	"github.com/fiapx/videoproc/lib/video"
)

// Config configures the reconcile service.
type Config struct {
	// Repository persists videos (required).
	Repository repo.Repository
	// Events publishes lifecycle events (required).
	Events *eventbus.Publisher
	// Bucket is the upload bucket, used to build event video paths.
	Bucket string
	// Logger emits reconcile logs.
	Logger *slog.Logger
	// Clock stamps status transitions.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the configuration.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Repository == nil {
		return trace.BadParameter("missing repository")
	}
	if cfg.Events == nil {
		return trace.BadParameter("missing event publisher")
	}
	if cfg.Bucket == "" {
		return trace.BadParameter("missing bucket")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentReconcile)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service converges videos onto UPLOADED.
type Service struct {
	cfg Config
}

// NewService returns a reconcile service.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// Result reports the outcome of one reconcile attempt.
type Result struct {
	// Status is the video's status after the attempt.
	Status video.Status
	// Skipped is true when another actor already moved the video to
	// UPLOADED or beyond, so this attempt changed nothing and published
	// nothing.
	Skipped bool
}

// Reconcile drives v to UPLOADED. The object store has already confirmed
// the upload, so any part receipts the client never reported are stamped
// as reconciled. Exactly one of the racing callers wins the conditional
// write and publishes the UPLOADED event; the others observe Skipped.
func (s *Service) Reconcile(ctx context.Context, v *video.Video) (Result, error) {
	ctx, vals := correlation.EnsureValues(ctx)

	if v.Status.Reached(video.StatusUploaded) {
		return Result{Status: v.Status, Skipped: true}, nil
	}

	previous := v.Status
	now := s.cfg.Clock.Now().UTC()

	created, err := v.ReconcileAllPartsAsUploaded()
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	// A video that never saw a URL request is still CREATED; walk it
	// through UPLOADING so the transition table stays authoritative.
	if v.Status == video.StatusCreated {
		if err := v.SetStatus(video.StatusUploading, now); err != nil {
			return Result{}, trace.Wrap(err)
		}
	}
	if err := v.CompleteUpload(now); err != nil {
		return Result{}, trace.Wrap(err)
	}

	err = s.cfg.Repository.UpdateVideo(ctx, v, previous)
	if trace.IsCompareFailed(err) {
		current, getErr := s.cfg.Repository.GetVideo(ctx, v.ID)
		if getErr != nil {
			return Result{}, trace.Wrap(getErr)
		}
		s.cfg.Logger.InfoContext(ctx, "Reconcile lost the race, another actor completed the video.",
			"video_id", v.ID,
			"status", current.Status,
		)
		return Result{Status: current.Status, Skipped: true}, nil
	}
	if err != nil {
		return Result{}, trace.Wrap(err)
	}

	// Only the race winner persists the part receipts; losers never get
	// past the conditional write above.
	firstCreated := v.TotalParts + 1
	if len(created) > 0 {
		firstCreated = created[0].PartNumber
	}
	for _, p := range v.Parts {
		if p.PartNumber >= firstCreated {
			break
		}
		if err := s.cfg.Repository.UpdateVideoPart(ctx, v.ID, p); err != nil {
			return Result{}, trace.Wrap(err)
		}
	}
	if len(created) > 0 {
		if err := s.cfg.Repository.AddVideoParts(ctx, v.ID, created); err != nil {
			return Result{}, trace.Wrap(err)
		}
	}

	event := eventbus.StatusChangedEvent{
		VideoID:       v.ID,
		VideoPath:     s.cfg.Bucket + "/" + v.Storage.ObjectKey,
		Status:        video.StatusUploaded,
		CorrelationID: vals.CorrelationID,
		TraceID:       vals.TraceID,
		VideoName:     v.Metadata.Filename,
	}
	// Workers forward the duration down the chain so the frame worker
	// only has to probe videos the client never described.
	if v.Metadata.DurationMs > 0 {
		event.Duration = (time.Duration(v.Metadata.DurationMs) * time.Millisecond).String()
	}
	if err := s.cfg.Events.PublishStatusChanged(ctx, event); err != nil {
		// The status write already landed; the event is best effort here
		// and the completion consumer path can still pick the video up.
		s.cfg.Logger.ErrorContext(ctx, "Failed to publish UPLOADED event.",
			"video_id", v.ID,
			"error", err,
		)
		return Result{Status: video.StatusUploaded}, trace.Wrap(err)
	}

	s.cfg.Logger.InfoContext(ctx, "Video reconciled to UPLOADED.",
		"video_id", v.ID,
		"previous_status", previous,
	)
	return Result{Status: video.StatusUploaded}, nil
}
