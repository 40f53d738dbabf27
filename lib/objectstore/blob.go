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

package objectstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc"
)

type downloadAPI interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Blob moves whole objects between the object store and worker
// workspaces. It wraps the SDK transfer manager so large segment files
// stream in concurrent chunks.
type Blob struct {
	downloader downloadAPI
	uploader   uploadAPI
	log        *slog.Logger
}

// NewBlob returns a Blob using the given transfer manager clients.
func NewBlob(downloader downloadAPI, uploader uploadAPI, log *slog.Logger) *Blob {
	if log == nil {
		log = slog.With(videoproc.ComponentKey, videoproc.ComponentObjectStore)
	}
	return &Blob{downloader: downloader, uploader: uploader, log: log}
}

// NewBlobFromClient builds a Blob on top of an S3 client.
func NewBlobFromClient(client *s3.Client, log *slog.Logger) *Blob {
	return NewBlob(manager.NewDownloader(client), manager.NewUploader(client), log)
}

// Download fetches bucket/key into destPath, creating parent directories
// as needed.
func (b *Blob) Download(ctx context.Context, bucket, key, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return trace.ConvertSystemError(err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer f.Close()

	start := time.Now()
	n, err := b.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return trace.ConnectionProblem(err, "downloading %v/%v", bucket, key)
	}
	b.log.InfoContext(ctx, "Downloaded object.",
		"bucket", bucket,
		"key", key,
		"bytes", n,
		"elapsed", time.Since(start).String(),
	)
	return nil
}

// UploadDir uploads every file in dir whose base name matches pattern to
// keyPrefix, preserving the file name. It returns the uploaded keys.
func (b *Blob) UploadDir(ctx context.Context, bucket, keyPrefix, dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match(pattern, entry.Name())
		if err != nil {
			return nil, trace.BadParameter("bad upload pattern %q: %v", pattern, err)
		}
		if !matched {
			continue
		}
		key := keyPrefix + entry.Name()
		if err := b.uploadFile(ctx, bucket, key, filepath.Join(dir, entry.Name())); err != nil {
			return nil, trace.Wrap(err)
		}
		keys = append(keys, key)
	}
	b.log.InfoContext(ctx, "Uploaded directory.",
		"bucket", bucket,
		"prefix", keyPrefix,
		"files", len(keys),
	)
	return keys, nil
}

func (b *Blob) uploadFile(ctx context.Context, bucket, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer f.Close()

	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return trace.ConnectionProblem(err, "uploading %v/%v", bucket, key)
	}
	return nil
}
