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

// Package web exposes the upload coordinator over HTTP.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/correlation"
	"github.com/fiapx/videoproc/lib/repo"
	"github.com/fiapx/videoproc/lib/upload"
	"github.com/fiapx/videoproc/lib/video"
)

// Config configures the API handler.
type Config struct {
	// Coordinator drives the upload use cases (required).
	Coordinator *upload.Coordinator
	// Repository answers health checks (required).
	Repository repo.Repository
	// Logger emits request logs.
	Logger *slog.Logger
	// Clock stamps health responses.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the configuration.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Coordinator == nil {
		return trace.BadParameter("missing coordinator")
	}
	if cfg.Repository == nil {
		return trace.BadParameter("missing repository")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentAPI)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler is the HTTP API of the upload coordinator.
type Handler struct {
	httprouter.Router
	cfg Config
}

// NewHandler returns the configured API router.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg}

	h.POST("/video-processor", h.makeHandler(h.createVideo))
	h.POST("/video-processor/:id/urls", h.makeHandler(h.generateURLs))
	h.POST("/video-processor/:id/parts/:n", h.makeHandler(h.reportPart))
	h.POST("/video-processor/:id/complete", h.makeHandler(h.completeUpload))
	h.POST("/webhooks/s3/complete-multipart", h.makeHandler(h.completeWebhook))
	h.GET("/health", h.makeHandler(h.health))
	h.Router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return h, nil
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// makeHandler populates the correlation context from the request headers,
// echoes the identifiers on the response and renders the handler's result
// or error as JSON.
func (h *Handler) makeHandler(fn handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		vals := correlation.Values{
			CorrelationID: r.Header.Get(videoproc.CorrelationIDHeader),
		}
		if traceID, spanID, ok := correlation.ParseTraceparent(r.Header.Get(videoproc.TraceparentHeader)); ok {
			vals.TraceID = traceID
			vals.SpanID = spanID
		}
		ctx, vals := correlation.EnsureValues(correlation.WithValues(r.Context(), vals))

		w.Header().Set(videoproc.CorrelationIDHeader, vals.CorrelationID)
		w.Header().Set(videoproc.TraceparentHeader, correlation.Traceparent(vals))

		out, err := fn(w, r.WithContext(ctx), p)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if out != nil {
			writeJSON(w, http.StatusOK, out)
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.cfg.Logger.ErrorContext(r.Context(), "Request failed.",
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": trace.UserMessage(err)})
}

// errorStatus maps the error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case video.IsInvalidTransition(err):
		return http.StatusBadRequest
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsBadParameter(err), trace.IsLimitExceeded(err):
		return http.StatusUnprocessableEntity
	case trace.IsConnectionProblem(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(out)
}

type createVideoRequest struct {
	TotalSize int64  `json:"totalSize"`
	Duration  int64  `json:"duration"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	UserID    string `json:"userId"`
}

type createVideoResponse struct {
	VideoID        string           `json:"videoId"`
	UploadID       string           `json:"uploadId"`
	URLs           []upload.PartURL `json:"urls"`
	NextPartNumber *int             `json:"nextPartNumber"`
	VideoPath      string           `json:"videoPath"`
	Status         video.Status     `json:"status"`
}

// createVideo creates the video and hands back the first batch of
// presigned URLs in the same round trip.
func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req createVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}

	v, err := h.cfg.Coordinator.CreateVideo(r.Context(), upload.CreateRequest{
		UserID:         req.UserID,
		TotalSizeBytes: req.TotalSize,
		DurationMs:     req.Duration,
		Filename:       req.Filename,
		Extension:      req.Extension,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	batch, err := h.cfg.Coordinator.GenerateBatchOfURLs(r.Context(), v.ID, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	status := v.Status
	if len(batch.URLs) > 0 {
		status = video.StatusUploading
	}
	return createVideoResponse{
		VideoID:        v.ID,
		UploadID:       batch.UploadID,
		URLs:           batch.URLs,
		NextPartNumber: batch.NextPartNumber,
		VideoPath:      v.Storage.Bucket + "/" + v.Storage.ObjectKey,
		Status:         status,
	}, nil
}

type generateURLsRequest struct {
	BatchSize int `json:"batchSize"`
}

func (h *Handler) generateURLs(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	req := generateURLsRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trace.BadParameter("invalid request body: %v", err)
		}
	}
	batch, err := h.cfg.Coordinator.GenerateBatchOfURLs(r.Context(), p.ByName("id"), req.BatchSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return batch, nil
}

type reportPartRequest struct {
	ETag string `json:"etag"`
}

func (h *Handler) reportPart(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	partNumber, err := strconv.Atoi(p.ByName("n"))
	if err != nil {
		return nil, trace.BadParameter("invalid part number %q", p.ByName("n"))
	}
	var req reportPartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}

	progress, err := h.cfg.Coordinator.ReportPartUploaded(r.Context(), p.ByName("id"), partNumber, req.ETag)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]video.Progress{"progress": progress}, nil
}

func (h *Handler) completeUpload(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	result, err := h.cfg.Coordinator.CompleteUpload(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

type webhookRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// completeWebhook is the object store's complete-multipart notification.
// It is safe to race the client's own complete call.
func (h *Handler) completeWebhook(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}
	if req.Bucket == "" || req.Key == "" {
		return nil, trace.BadParameter("missing bucket or key")
	}

	result, err := h.cfg.Coordinator.ReconcileFromWebhook(r.Context(), req.Bucket, req.Key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{
		"status":  result.Status,
		"skipped": result.Skipped,
	}, nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	resp := map[string]string{
		"status":    "ok",
		"timestamp": h.cfg.Clock.Now().UTC().Format(time.RFC3339),
		"database":  "ok",
	}
	if err := h.cfg.Repository.Ping(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["database"] = "unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return nil, nil
	}
	return resp, nil
}
