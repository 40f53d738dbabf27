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

// Package workers holds behavior shared by the pipeline workers.
package workers

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/fiapx/videoproc/lib/eventbus"
	"github.com/fiapx/videoproc/lib/repo"
	"github.com/fiapx/videoproc/lib/video"
)

// FailVideo marks a video as FAILED after a poison message and publishes
// the terminal event with the failure reason. Both steps are best effort:
// the message is already acknowledged, so all that is left is making the
// failure visible.
func FailVideo(ctx context.Context, repository repo.Repository, events *eventbus.Publisher, log *slog.Logger, clock clockwork.Clock, ev *eventbus.StatusChangedEvent, handleErr error) {
	v, err := repository.GetVideo(ctx, ev.VideoID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load video for failure marking.",
			"video_id", ev.VideoID,
			"error", err,
		)
	} else if !v.Status.IsTerminal() {
		expected := v.Status
		if err := v.SetStatus(video.StatusFailed, clock.Now().UTC()); err != nil {
			log.ErrorContext(ctx, "Cannot mark video as failed.",
				"video_id", v.ID,
				"error", err,
			)
		} else if err := repository.UpdateVideo(ctx, v, expected); err != nil && !trace.IsCompareFailed(err) {
			log.ErrorContext(ctx, "Failed to persist FAILED status.",
				"video_id", v.ID,
				"error", err,
			)
		}
	}

	if err := events.PublishStatusChanged(ctx, eventbus.StatusChangedEvent{
		VideoID:     ev.VideoID,
		VideoPath:   ev.VideoPath,
		Status:      video.StatusFailed,
		VideoName:   ev.VideoName,
		UserEmail:   ev.UserEmail,
		ErrorReason: handleErr.Error(),
	}); err != nil {
		log.ErrorContext(ctx, "Failed to publish FAILED event.",
			"video_id", ev.VideoID,
			"error", err,
		)
	}
}
