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

// Package completion consumes the object store's CompleteMultipartUpload
// notifications and reconciles the matching video to UPLOADED. It is the
// queue-driven counterpart of the HTTP complete call and safe to race it.
package completion

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/queue"
	"github.com/fiapx/videoproc/lib/reconcile"
	"github.com/fiapx/videoproc/lib/repo"
	"github.com/fiapx/videoproc/lib/storagepath"
)

// completeMultipartReason is the event reason emitted by the object store
// when a multipart upload is finalized.
const completeMultipartReason = "CompleteMultipartUpload"

// Event is the object store completion notification detail.
type Event struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
	Reason string `json:"reason"`
}

// Config configures the completion consumer handler.
type Config struct {
	// Repository looks videos up by object key (required).
	Repository repo.Repository
	// Reconciler converges videos onto UPLOADED (required).
	Reconciler *reconcile.Service
	// Logger emits handler logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Repository == nil {
		return trace.BadParameter("missing repository")
	}
	if cfg.Reconciler == nil {
		return trace.BadParameter("missing reconcile service")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentCompletion)
	}
	return nil
}

// Handler processes completion notifications.
type Handler struct {
	cfg Config
}

// NewHandler returns a completion handler.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Handler{cfg: cfg}, nil
}

// Parse implements queue.Handler. Notifications arrive either as a bare
// detail or wrapped in an EventBridge-style {"detail": ...} envelope.
// Messages without an object key are not completion notifications and are
// left to expire.
func (h *Handler) Parse(raw []byte) (*Event, error) {
	var wrapped struct {
		Detail *Event `json:"detail"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Detail != nil && wrapped.Detail.Object.Key != "" {
		return wrapped.Detail, nil
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, trace.BadParameter("malformed completion notification: %v", err)
	}
	if ev.Object.Key == "" {
		return nil, nil
	}
	return &ev, nil
}

// Handle implements queue.Handler.
func (h *Handler) Handle(ctx context.Context, ev *Event) error {
	if ev.Reason != "" && ev.Reason != completeMultipartReason {
		h.cfg.Logger.DebugContext(ctx, "Skipping notification with unrelated reason.", "reason", ev.Reason)
		return nil
	}

	fullPath := ev.Bucket.Name + "/" + ev.Object.Key
	if _, err := storagepath.Parse(fullPath); err != nil {
		return queue.NonRetryable(trace.Wrap(err))
	}

	v, err := h.cfg.Repository.GetVideoByObjectKey(ctx, ev.Object.Key)
	if err != nil {
		return trace.Wrap(err)
	}

	result, err := h.cfg.Reconciler.Reconcile(ctx, v)
	if err != nil {
		return trace.Wrap(err)
	}
	if result.Skipped {
		h.cfg.Logger.InfoContext(ctx, "Video already reconciled, skipping.",
			"video_id", v.ID,
			"status", result.Status,
		)
	}
	return nil
}
