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

// Package video holds the video aggregate: upload parts, storage metadata
// and the status state machine. All mutation goes through the aggregate so
// the invariants on parts and transitions hold in one place.
package video

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gravitational/trace"
)

// PartStatus is the upload state of a single part.
type PartStatus string

const (
	// PartPending has no URL assigned yet.
	PartPending PartStatus = "pending"
	// PartUploading has a presigned URL but no reported etag.
	PartUploading PartStatus = "uploading"
	// PartUploaded has a reported etag.
	PartUploaded PartStatus = "uploaded"
)

// Part is a single part of the multipart upload. Parts are exclusively
// owned by their video and never migrate between videos.
type Part struct {
	// PartNumber is 1-based and unique within a video.
	PartNumber int
	// SizeBytes is the expected size of the part.
	SizeBytes int64
	// URL is the presigned upload URL, empty until assigned.
	URL string
	// ETag is the object store receipt, empty until the client reports it.
	ETag string
	// Status tracks the part through its upload.
	Status PartStatus
}

// Metadata is the client-supplied description of the video.
type Metadata struct {
	TotalSizeBytes int64
	DurationMs     int64
	Filename       string
	Extension      string
}

// StorageInfo locates the video in the object store.
type StorageInfo struct {
	// UploadID is the multipart upload identifier. Every video gets one
	// at creation, single-part uploads included.
	UploadID string
	// ObjectKey is the object store key of the source file, without bucket.
	ObjectKey string
	// Bucket is the bucket holding the source file.
	Bucket string
}

// Progress summarizes how far the upload has come.
type Progress struct {
	TotalParts    int     `json:"totalParts"`
	UploadedParts int     `json:"uploadedParts"`
	Percentage    float64 `json:"percentage"`
}

// CompletedPart is the (partNumber, etag) pair required by the object store
// completion call.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// Video is the aggregate root. Status is mutated only through the state
// machine methods.
type Video struct {
	ID       string
	UserID   string
	Metadata Metadata
	Status   Status
	Storage  StorageInfo

	// PartSize and TotalParts carry the upload plan. TotalParts may exceed
	// len(Parts) while overflow pages are not yet materialized.
	PartSize   int64
	TotalParts int

	// Parts is ordered by PartNumber.
	Parts []Part

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns a new video in StatusCreated with no materialized parts.
func New(id, userID string, md Metadata, storage StorageInfo, partSize int64, totalParts int, now time.Time) (*Video, error) {
	if id == "" {
		return nil, trace.BadParameter("missing video id")
	}
	if totalParts < 1 {
		return nil, trace.BadParameter("video must have at least one part")
	}
	return &Video{
		ID:         id,
		UserID:     userID,
		Metadata:   md,
		Status:     StatusCreated,
		Storage:    storage,
		PartSize:   partSize,
		TotalParts: totalParts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// SetStatus applies a transition through the static table. The same-state
// transition is rejected like any other missing edge; callers that need
// idempotency handle the no-op case themselves.
func (v *Video) SetStatus(to Status, now time.Time) error {
	if !v.Status.CanTransitionTo(to) {
		return trace.Wrap(&InvalidTransitionError{From: v.Status, To: to})
	}
	v.Status = to
	v.UpdatedAt = now
	return nil
}

// AddPart appends a pending part. Part numbers must be unique.
func (v *Video) AddPart(partNumber int, sizeBytes int64) error {
	if partNumber < 1 {
		return trace.BadParameter("part number must be at least 1, got %d", partNumber)
	}
	if partNumber > v.TotalParts {
		return trace.BadParameter("part number %d exceeds planned parts %d", partNumber, v.TotalParts)
	}
	if v.findPart(partNumber) != nil {
		return trace.AlreadyExists("part %d already exists on video %s", partNumber, v.ID)
	}
	v.Parts = append(v.Parts, Part{
		PartNumber: partNumber,
		SizeBytes:  sizeBytes,
		Status:     PartPending,
	})
	sort.Slice(v.Parts, func(i, j int) bool { return v.Parts[i].PartNumber < v.Parts[j].PartNumber })
	return nil
}

// MaterializePartsThrough appends pending parts up to and including the
// given part number and returns the newly created parts. Sizes follow the
// part plan, with the final part taking the remainder.
func (v *Video) MaterializePartsThrough(partNumber int) ([]Part, error) {
	if partNumber > v.TotalParts {
		partNumber = v.TotalParts
	}
	start := len(v.Parts) + 1
	var created []Part
	for n := start; n <= partNumber; n++ {
		if err := v.AddPart(n, v.partSizeAt(n)); err != nil {
			return nil, trace.Wrap(err)
		}
		created = append(created, *v.findPart(n))
	}
	return created, nil
}

func (v *Video) partSizeAt(partNumber int) int64 {
	if partNumber < v.TotalParts {
		return v.PartSize
	}
	return v.Metadata.TotalSizeBytes - int64(v.TotalParts-1)*v.PartSize
}

// AssignURLToPart records a presigned URL on a part. It fails when the
// video is in a terminal state or the part does not exist.
func (v *Video) AssignURLToPart(partNumber int, url string) error {
	if v.Status.IsTerminal() {
		return trace.BadParameter("cannot assign URL on video %s in terminal status %s", v.ID, v.Status)
	}
	p := v.findPart(partNumber)
	if p == nil {
		return trace.NotFound("part %d not found on video %s", partNumber, v.ID)
	}
	p.URL = url
	if p.Status == PartPending {
		p.Status = PartUploading
	}
	return nil
}

// MarkPartAsUploaded records the etag reported for a part. Re-marking with
// the same etag is a no-op; a different etag overwrites the previous one.
func (v *Video) MarkPartAsUploaded(partNumber int, etag string) error {
	if etag == "" {
		return trace.BadParameter("missing etag for part %d of video %s", partNumber, v.ID)
	}
	p := v.findPart(partNumber)
	if p == nil {
		return trace.NotFound("part %d not found on video %s", partNumber, v.ID)
	}
	if p.Status == PartUploaded && p.ETag == etag {
		return nil
	}
	p.ETag = etag
	p.Status = PartUploaded
	return nil
}

// PendingPartsBatch returns up to n parts with no URL assigned, ordered by
// part number, and the number of the first pending part strictly after the
// batch. The second return is nil when no further parts are pending. Parts
// of a not-yet-materialized overflow page count as pending.
func (v *Video) PendingPartsBatch(n int) ([]Part, *int) {
	var batch []Part
	for _, p := range v.Parts {
		if len(batch) == n {
			break
		}
		if p.URL == "" {
			batch = append(batch, p)
		}
	}

	var after int
	if len(batch) > 0 {
		after = batch[len(batch)-1].PartNumber
	}
	for _, p := range v.Parts {
		if p.PartNumber > after && p.URL == "" {
			next := p.PartNumber
			return batch, &next
		}
	}
	if len(v.Parts) < v.TotalParts {
		next := len(v.Parts) + 1
		return batch, &next
	}
	return batch, nil
}

// UploadProgress reports how many of the planned parts are uploaded.
func (v *Video) UploadProgress() Progress {
	uploaded := 0
	for _, p := range v.Parts {
		if p.Status == PartUploaded {
			uploaded++
		}
	}
	pct := float64(0)
	if v.TotalParts > 0 {
		pct = math.Round(float64(uploaded)/float64(v.TotalParts)*10000) / 100
	}
	return Progress{
		TotalParts:    v.TotalParts,
		UploadedParts: uploaded,
		Percentage:    pct,
	}
}

// IsFullyUploaded reports whether every planned part has an etag.
func (v *Video) IsFullyUploaded() bool {
	return v.UploadProgress().UploadedParts == v.TotalParts
}

// UploadedPartsETags returns the (partNumber, etag) pairs of all uploaded
// parts ordered by part number.
func (v *Video) UploadedPartsETags() []CompletedPart {
	out := make([]CompletedPart, 0, len(v.Parts))
	for _, p := range v.Parts {
		if p.Status == PartUploaded {
			out = append(out, CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag})
		}
	}
	return out
}

// CanGenerateMoreURLs reports whether the video accepts new URL batches.
func (v *Video) CanGenerateMoreURLs() bool {
	return v.Status == StatusCreated || v.Status == StatusUploading
}

// StartUploadingIfNeeded transitions CREATED videos to UPLOADING. Already
// uploading videos are a no-op success; anything else fails.
func (v *Video) StartUploadingIfNeeded(now time.Time) error {
	switch v.Status {
	case StatusUploading:
		return nil
	case StatusCreated:
		return trace.Wrap(v.SetStatus(StatusUploading, now))
	default:
		return trace.Wrap(&InvalidTransitionError{From: v.Status, To: StatusUploading})
	}
}

// CompleteUpload transitions UPLOADING videos with all parts uploaded to
// UPLOADED.
func (v *Video) CompleteUpload(now time.Time) error {
	if !v.IsFullyUploaded() {
		progress := v.UploadProgress()
		return trace.BadParameter("video %s has %d of %d parts uploaded", v.ID, progress.UploadedParts, progress.TotalParts)
	}
	return trace.Wrap(v.SetStatus(StatusUploaded, now))
}

// ReconcileAllPartsAsUploaded marks every planned part as uploaded,
// materializing missing parts and stamping a synthetic etag where the
// client never reported one. Used when the object store has already
// confirmed completion and per-part receipts are moot. Returns the newly
// materialized parts so callers can persist them.
func (v *Video) ReconcileAllPartsAsUploaded() ([]Part, error) {
	existing := len(v.Parts)
	if _, err := v.MaterializePartsThrough(v.TotalParts); err != nil {
		return nil, trace.Wrap(err)
	}
	for i := range v.Parts {
		p := &v.Parts[i]
		if p.ETag == "" {
			p.ETag = fmt.Sprintf("reconciled-%d", p.PartNumber)
		}
		p.Status = PartUploaded
	}
	return append([]Part(nil), v.Parts[existing:]...), nil
}

func (v *Video) findPart(partNumber int) *Part {
	for i := range v.Parts {
		if v.Parts[i].PartNumber == partNumber {
			return &v.Parts[i]
		}
	}
	return nil
}
