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

// Package objectstore adapts the S3 multipart upload primitives used by
// the upload coordinator and the media workers.
package objectstore

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/defaults"
	"github.com/fiapx/videoproc/lib/video"
)

type multipartAPI interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type presignAPI interface {
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config holds the store configuration.
type Config struct {
	// Bucket is the bucket multipart uploads are created in.
	Bucket string
	// Client is the S3 API client.
	Client multipartAPI
	// Presigner issues presigned part URLs.
	Presigner presignAPI
	// InternalEndpoint is the origin the server talks to.
	InternalEndpoint string
	// PublicEndpoint is the origin reachable by clients. Presigned URLs
	// are rewritten from InternalEndpoint to PublicEndpoint before they
	// leave the process.
	PublicEndpoint string
	// PresignTTL is the lifetime of presigned URLs.
	PresignTTL time.Duration
	// Logger emits store logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.Bucket == "" {
		return trace.BadParameter("missing bucket")
	}
	if c.Client == nil {
		return trace.BadParameter("missing S3 client")
	}
	if c.Presigner == nil {
		return trace.BadParameter("missing S3 presigner")
	}
	if c.PresignTTL == 0 {
		c.PresignTTL = defaults.PresignTTL
	}
	if c.Logger == nil {
		c.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentObjectStore)
	}
	return nil
}

// Store is the S3-backed object store adapter.
type Store struct {
	Config
}

// NewStore returns a new store.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{Config: cfg}, nil
}

// CreateUpload initiates a multipart upload for the given key and returns
// the upload ID.
func (s *Store) CreateUpload(ctx context.Context, key string) (string, error) {
	start := time.Now()
	resp, err := s.Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", trace.ConnectionProblem(err, "CreateMultipartUpload(%v)", key)
	}
	s.Logger.InfoContext(ctx, "Created multipart upload.",
		"key", key,
		"upload", aws.ToString(resp.UploadId),
		"elapsed", time.Since(start).String(),
	)
	return aws.ToString(resp.UploadId), nil
}

// PresignPartURL returns a presigned PUT URL for one part, rewritten to the
// public endpoint.
func (s *Store) PresignPartURL(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	req, err := s.Presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.Bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(s.PresignTTL))
	if err != nil {
		return "", trace.ConnectionProblem(err, "PresignUploadPart(%v) part(%v)", key, partNumber)
	}
	return rewriteOrigin(req.URL, s.InternalEndpoint, s.PublicEndpoint), nil
}

// CompleteUpload finalizes a multipart upload with the given part receipts
// and returns the resulting object location and etag. Parts are sorted by
// part number, as the object store requires.
func (s *Store) CompleteUpload(ctx context.Context, key, uploadID string, parts []video.CompletedPart) (location, etag string, err error) {
	if len(parts) == 0 {
		return "", "", trace.BadParameter("cannot complete upload %v with no parts", uploadID)
	}
	sorted := make([]video.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completed := make([]s3types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = s3types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	}

	start := time.Now()
	resp, err := s.Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", "", trace.ConnectionProblem(err, "CompleteMultipartUpload(upload %v)", uploadID)
	}
	s.Logger.InfoContext(ctx, "Completed multipart upload.",
		"key", key,
		"upload", uploadID,
		"parts", len(parts),
		"elapsed", time.Since(start).String(),
	)
	return aws.ToString(resp.Location), aws.ToString(resp.ETag), nil
}

// AbortUpload aborts a multipart upload. Used to avoid leaking storage when
// video creation fails after the upload was initiated.
func (s *Store) AbortUpload(ctx context.Context, bucket, key, uploadID string) error {
	_, err := s.Client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return trace.ConnectionProblem(err, "AbortMultipartUpload(upload %v)", uploadID)
	}
	s.Logger.InfoContext(ctx, "Aborted multipart upload.", "key", key, "upload", uploadID)
	return nil
}

// rewriteOrigin replaces the scheme and host of raw with those of the
// public endpoint. The URL is returned unchanged when the endpoints are
// equal, missing, or anything fails to parse.
func rewriteOrigin(raw, internalEndpoint, publicEndpoint string) string {
	if publicEndpoint == "" || internalEndpoint == publicEndpoint {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	pub, err := url.Parse(publicEndpoint)
	if err != nil || pub.Host == "" {
		return raw
	}
	u.Scheme = pub.Scheme
	u.Host = pub.Host
	return u.String()
}
