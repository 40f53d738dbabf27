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

// Package upload implements the resumable multipart upload coordinator:
// video creation with an eager part plan, presigned URL batches, per-part
// upload receipts and idempotent completion.
package upload

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/defaults"
	"github.com/fiapx/videoproc/lib/partsize"
	"github.com/fiapx/videoproc/lib/reconcile"
	"github.com/fiapx/videoproc/lib/repo"
	"github.com/fiapx/videoproc/lib/storagepath"
	"github.com/fiapx/videoproc/lib/video"
)

// allowedExtensions are the video container formats accepted for upload.
var allowedExtensions = map[string]struct{}{
	"mp4":  {},
	"mov":  {},
	"avi":  {},
	"mkv":  {},
	"webm": {},
}

type objectStore interface {
	CreateUpload(ctx context.Context, key string) (string, error)
	PresignPartURL(ctx context.Context, key, uploadID string, partNumber int) (string, error)
	CompleteUpload(ctx context.Context, key, uploadID string, parts []video.CompletedPart) (location, etag string, err error)
	AbortUpload(ctx context.Context, bucket, key, uploadID string) error
}

// Config configures the coordinator.
type Config struct {
	// Repository persists videos (required).
	Repository repo.Repository
	// Store talks to the object store (required).
	Store objectStore
	// Reconciler converges videos onto UPLOADED (required).
	Reconciler *reconcile.Service
	// Bucket receives uploaded videos (required).
	Bucket string
	// URLBatchSize is the default presigned URL batch size.
	URLBatchSize int
	// MaxEagerParts caps the parts materialized at creation time. Videos
	// planning more parts get the overflow materialized lazily as URL
	// batches walk into it.
	MaxEagerParts int
	// Logger emits coordinator logs.
	Logger *slog.Logger
	// Clock stamps videos and transitions.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the configuration.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Repository == nil {
		return trace.BadParameter("missing repository")
	}
	if cfg.Store == nil {
		return trace.BadParameter("missing object store")
	}
	if cfg.Reconciler == nil {
		return trace.BadParameter("missing reconcile service")
	}
	if cfg.Bucket == "" {
		return trace.BadParameter("missing bucket")
	}
	if cfg.URLBatchSize == 0 {
		cfg.URLBatchSize = defaults.URLBatchSize
	}
	if cfg.MaxEagerParts == 0 {
		cfg.MaxEagerParts = defaults.MaxMaterializedParts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentCoordinator)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Coordinator drives the upload lifecycle of a video.
type Coordinator struct {
	cfg Config
}

// NewCoordinator returns a coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Coordinator{cfg: cfg}, nil
}

// CreateRequest describes a video to be uploaded.
type CreateRequest struct {
	UserID         string
	TotalSizeBytes int64
	DurationMs     int64
	Filename       string
	Extension      string
}

// CreateVideo validates the request, computes the part plan, initiates the
// multipart upload and persists the video in CREATED with its eager parts.
// Any failure after the multipart upload was initiated aborts it so the
// object store does not accumulate orphans.
func (c *Coordinator) CreateVideo(ctx context.Context, req CreateRequest) (*video.Video, error) {
	ext, err := normalizeExtension(req.Extension)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Filename == "" {
		return nil, trace.BadParameter("missing filename")
	}

	plan, err := partsize.Calculate(req.TotalSizeBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	id := uuid.NewString()
	filename := req.Filename
	if !strings.HasSuffix(strings.ToLower(filename), "."+ext) {
		filename += "." + ext
	}
	key := storagepath.VideoFile(c.cfg.Bucket, id, filename).Key()

	uploadID, err := c.cfg.Store.CreateUpload(ctx, key)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	now := c.cfg.Clock.Now().UTC()
	v, err := video.New(id, req.UserID, video.Metadata{
		TotalSizeBytes: req.TotalSizeBytes,
		DurationMs:     req.DurationMs,
		Filename:       filename,
		Extension:      ext,
	}, video.StorageInfo{
		UploadID:  uploadID,
		ObjectKey: key,
		Bucket:    c.cfg.Bucket,
	}, plan.PartSize, plan.NumberOfParts, now)
	if err != nil {
		c.abortQuietly(ctx, key, uploadID)
		return nil, trace.Wrap(err)
	}

	eager := plan.NumberOfParts
	if eager > c.cfg.MaxEagerParts {
		eager = c.cfg.MaxEagerParts
	}
	if _, err := v.MaterializePartsThrough(eager); err != nil {
		c.abortQuietly(ctx, key, uploadID)
		return nil, trace.Wrap(err)
	}

	if err := c.cfg.Repository.CreateVideo(ctx, v); err != nil {
		c.abortQuietly(ctx, key, uploadID)
		return nil, trace.Wrap(err)
	}

	c.cfg.Logger.InfoContext(ctx, "Created video.",
		"video_id", v.ID,
		"size_bytes", req.TotalSizeBytes,
		"parts", plan.NumberOfParts,
		"part_size", plan.PartSize,
	)
	return v, nil
}

func (c *Coordinator) abortQuietly(ctx context.Context, key, uploadID string) {
	if err := c.cfg.Store.AbortUpload(ctx, c.cfg.Bucket, key, uploadID); err != nil {
		c.cfg.Logger.WarnContext(ctx, "Failed to abort orphaned multipart upload.",
			"key", key,
			"upload", uploadID,
			"error", err,
		)
	}
}

// PartURL is one presigned upload URL.
type PartURL struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

// URLBatch is the result of one generate-urls call.
type URLBatch struct {
	UploadID string    `json:"uploadId"`
	URLs     []PartURL `json:"urls"`
	// NextPartNumber is the first pending part after this batch, nil when
	// every part has a URL.
	NextPartNumber *int `json:"nextPartNumber"`
}

// GenerateBatchOfURLs presigns URLs for the next batchSize pending parts.
// The batch is all-or-nothing: a single presign failure mutates nothing.
// The first successful batch moves the video from CREATED to UPLOADING.
func (c *Coordinator) GenerateBatchOfURLs(ctx context.Context, videoID string, batchSize int) (*URLBatch, error) {
	if batchSize <= 0 {
		batchSize = c.cfg.URLBatchSize
	}
	v, err := c.cfg.Repository.GetVideo(ctx, videoID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !v.CanGenerateMoreURLs() {
		return nil, trace.Wrap(&video.InvalidTransitionError{From: v.Status, To: video.StatusUploading})
	}

	batch, next := v.PendingPartsBatch(batchSize)
	if len(batch) < batchSize && len(v.Parts) < v.TotalParts {
		// Walk into the lazily materialized overflow page.
		created, err := v.MaterializePartsThrough(len(v.Parts) + batchSize - len(batch))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := c.cfg.Repository.AddVideoParts(ctx, v.ID, created); err != nil {
			return nil, trace.Wrap(err)
		}
		batch, next = v.PendingPartsBatch(batchSize)
	}
	if len(batch) == 0 {
		return &URLBatch{UploadID: v.Storage.UploadID}, nil
	}

	urls := make([]string, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range batch {
		i, p := i, p
		g.Go(func() error {
			url, err := c.cfg.Store.PresignPartURL(gctx, v.Storage.ObjectKey, v.Storage.UploadID, p.PartNumber)
			if err != nil {
				return trace.Wrap(err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}

	result := &URLBatch{UploadID: v.Storage.UploadID, NextPartNumber: next}
	for i, p := range batch {
		if err := v.AssignURLToPart(p.PartNumber, urls[i]); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := c.cfg.Repository.UpdateVideoPart(ctx, v.ID, *findPart(v, p.PartNumber)); err != nil {
			return nil, trace.Wrap(err)
		}
		result.URLs = append(result.URLs, PartURL{PartNumber: p.PartNumber, URL: urls[i]})
	}

	if v.Status == video.StatusCreated {
		if err := c.startUploading(ctx, v); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	c.cfg.Logger.InfoContext(ctx, "Generated URL batch.",
		"video_id", v.ID,
		"urls", len(result.URLs),
	)
	return result, nil
}

// startUploading moves a CREATED video to UPLOADING. A concurrent actor
// winning the same transition is treated as success.
func (c *Coordinator) startUploading(ctx context.Context, v *video.Video) error {
	if err := v.StartUploadingIfNeeded(c.cfg.Clock.Now().UTC()); err != nil {
		return trace.Wrap(err)
	}
	err := c.cfg.Repository.UpdateVideo(ctx, v, video.StatusCreated)
	if trace.IsCompareFailed(err) {
		return nil
	}
	return trace.Wrap(err)
}

// ReportPartUploaded records the etag the client received for one part.
// Repeat reports with the same etag are no-ops with the same progress.
func (c *Coordinator) ReportPartUploaded(ctx context.Context, videoID string, partNumber int, etag string) (video.Progress, error) {
	v, err := c.cfg.Repository.GetVideo(ctx, videoID)
	if err != nil {
		return video.Progress{}, trace.Wrap(err)
	}

	if v.Status == video.StatusCreated {
		if err := c.startUploading(ctx, v); err != nil {
			return video.Progress{}, trace.Wrap(err)
		}
	}
	if partNumber > len(v.Parts) && partNumber <= v.TotalParts {
		created, err := v.MaterializePartsThrough(partNumber)
		if err != nil {
			return video.Progress{}, trace.Wrap(err)
		}
		if err := c.cfg.Repository.AddVideoParts(ctx, v.ID, created); err != nil {
			return video.Progress{}, trace.Wrap(err)
		}
	}
	if err := v.MarkPartAsUploaded(partNumber, etag); err != nil {
		return video.Progress{}, trace.Wrap(err)
	}
	if err := c.cfg.Repository.UpdateVideoPart(ctx, v.ID, *findPart(v, partNumber)); err != nil {
		return video.Progress{}, trace.Wrap(err)
	}
	return v.UploadProgress(), nil
}

// CompleteResult is the outcome of a complete-upload call.
type CompleteResult struct {
	Status   video.Status `json:"status"`
	Location string       `json:"location,omitempty"`
	ETag     string       `json:"etag,omitempty"`
}

// CompleteUpload finalizes the multipart upload with the collected etags
// and delegates the UPLOADED transition and event to the reconciler. A
// video already at or beyond UPLOADED is an idempotent success.
func (c *Coordinator) CompleteUpload(ctx context.Context, videoID string) (*CompleteResult, error) {
	v, err := c.cfg.Repository.GetVideo(ctx, videoID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if v.Status.Reached(video.StatusUploaded) {
		return &CompleteResult{Status: v.Status}, nil
	}
	if !v.IsFullyUploaded() {
		progress := v.UploadProgress()
		return nil, trace.BadParameter("video %s has %d of %d parts uploaded", v.ID, progress.UploadedParts, progress.TotalParts)
	}

	location, etag, err := c.cfg.Store.CompleteUpload(ctx, v.Storage.ObjectKey, v.Storage.UploadID, v.UploadedPartsETags())
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result, err := c.cfg.Reconciler.Reconcile(ctx, v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &CompleteResult{Status: result.Status, Location: location, ETag: etag}, nil
}

// ReconcileFromWebhook handles the object store's complete-multipart
// notification for bucket/key. Safe to race the client's complete call.
func (c *Coordinator) ReconcileFromWebhook(ctx context.Context, bucket, key string) (reconcile.Result, error) {
	if _, err := storagepath.Parse(bucket + "/" + key); err != nil {
		return reconcile.Result{}, trace.Wrap(err)
	}
	v, err := c.cfg.Repository.GetVideoByObjectKey(ctx, key)
	if err != nil {
		return reconcile.Result{}, trace.Wrap(err)
	}
	result, err := c.cfg.Reconciler.Reconcile(ctx, v)
	if err != nil {
		return reconcile.Result{}, trace.Wrap(err)
	}
	return result, nil
}

func normalizeExtension(ext string) (string, error) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if normalized == "" {
		return "", trace.BadParameter("missing file extension")
	}
	if _, ok := allowedExtensions[normalized]; !ok {
		return "", trace.BadParameter("unsupported file extension %q", ext)
	}
	return normalized, nil
}

func findPart(v *video.Video, partNumber int) *video.Part {
	for i := range v.Parts {
		if v.Parts[i].PartNumber == partNumber {
			return &v.Parts[i]
		}
	}
	return nil
}
