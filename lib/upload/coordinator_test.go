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

package upload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/fiapx/videoproc/lib/eventbus"
	"github.com/fiapx/videoproc/lib/reconcile"
	"github.com/fiapx/videoproc/lib/repo/memory"
	"github.com/fiapx/videoproc/lib/video"
)

type fakeStore struct {
	mu         sync.Mutex
	presigns   int
	presignErr error
	completed  bool
	aborted    bool
}

func (f *fakeStore) CreateUpload(ctx context.Context, key string) (string, error) {
	return "upload-1", nil
}

func (f *fakeStore) PresignPartURL(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return "", f.presignErr
	}
	f.presigns++
	return fmt.Sprintf("https://store/%s?partNumber=%d", key, partNumber), nil
}

func (f *fakeStore) CompleteUpload(ctx context.Context, key, uploadID string, parts []video.CompletedPart) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	return "https://store/" + key, "final-etag", nil
}

func (f *fakeStore) AbortUpload(ctx context.Context, bucket, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return nil
}

type countingSender struct {
	sent atomic.Int64
}

func (c *countingSender) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.sent.Add(1)
	return &sqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

type fixture struct {
	coordinator *Coordinator
	repository  *memory.Repository
	store       *fakeStore
	sender      *countingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repository := memory.New()
	store := &fakeStore{}
	sender := &countingSender{}

	events, err := eventbus.NewPublisher(eventbus.Config{
		TopicARN: eventbus.TopicBypass,
		SQS:      sender,
		QueueURL: "https://sqs.local/q",
	})
	require.NoError(t, err)

	reconciler, err := reconcile.NewService(reconcile.Config{
		Repository: repository,
		Events:     events,
		Bucket:     "uploads",
	})
	require.NoError(t, err)

	coordinator, err := NewCoordinator(Config{
		Repository: repository,
		Store:      store,
		Reconciler: reconciler,
		Bucket:     "uploads",
	})
	require.NoError(t, err)

	return &fixture{coordinator: coordinator, repository: repository, store: store, sender: sender}
}

func (f *fixture) create(t *testing.T, sizeBytes int64) *video.Video {
	t.Helper()
	v, err := f.coordinator.CreateVideo(context.Background(), CreateRequest{
		UserID:         "user-1",
		TotalSizeBytes: sizeBytes,
		DurationMs:     60_000,
		Filename:       "movie",
		Extension:      "mp4",
	})
	require.NoError(t, err)
	return v
}

func TestCreateVideoValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, tc := range []struct {
		desc string
		req  CreateRequest
	}{
		{desc: "bad extension", req: CreateRequest{TotalSizeBytes: 1 << 20, Filename: "a", Extension: "exe"}},
		{desc: "missing extension", req: CreateRequest{TotalSizeBytes: 1 << 20, Filename: "a"}},
		{desc: "missing filename", req: CreateRequest{TotalSizeBytes: 1 << 20, Extension: "mp4"}},
		{desc: "zero size", req: CreateRequest{Filename: "a", Extension: "mp4"}},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := f.coordinator.CreateVideo(context.Background(), tc.req)
			require.Error(t, err)
		})
	}

	// Case-insensitive with optional leading dot.
	v, err := f.coordinator.CreateVideo(context.Background(), CreateRequest{
		TotalSizeBytes: 1 << 20,
		Filename:       "clip",
		Extension:      ".MP4",
	})
	require.NoError(t, err)
	require.Equal(t, "mp4", v.Metadata.Extension)
	require.Equal(t, "clip.mp4", v.Metadata.Filename)
}

func TestSmallVideoSinglePartFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 4<<20)
	require.Equal(t, 1, v.TotalParts)
	require.Equal(t, video.StatusCreated, v.Status)

	batch, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 0)
	require.NoError(t, err)
	require.Len(t, batch.URLs, 1)
	require.Nil(t, batch.NextPartNumber)

	progress, err := f.coordinator.ReportPartUploaded(context.Background(), v.ID, 1, "X")
	require.NoError(t, err)
	require.Equal(t, 1, progress.UploadedParts)
	require.InDelta(t, 100.0, progress.Percentage, 0.001)

	result, err := f.coordinator.CompleteUpload(context.Background(), v.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploaded, result.Status)
	require.Equal(t, "final-etag", result.ETag)
	require.True(t, f.store.completed)
	require.EqualValues(t, 1, f.sender.sent.Load())
}

func TestMediumVideoBatchTransitions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 100<<20)
	require.Equal(t, 4, v.TotalParts)
	require.EqualValues(t, 32<<20, v.PartSize)

	batch, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 0)
	require.NoError(t, err)
	require.Len(t, batch.URLs, 4)
	require.Nil(t, batch.NextPartNumber)
	require.Equal(t, "upload-1", batch.UploadID)

	stored, err := f.repository.GetVideo(context.Background(), v.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploading, stored.Status)
	for _, p := range stored.Parts {
		require.NotEmpty(t, p.URL)
	}
}

func TestLargeVideoPagedBatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// 1024.4 MiB plans 33 parts of 32 MiB.
	v := f.create(t, 1024<<20+410<<10)
	require.Equal(t, 33, v.TotalParts)

	first, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 20)
	require.NoError(t, err)
	require.Len(t, first.URLs, 20)
	require.NotNil(t, first.NextPartNumber)
	require.Equal(t, 21, *first.NextPartNumber)

	second, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 20)
	require.NoError(t, err)
	require.Len(t, second.URLs, 13)
	require.Nil(t, second.NextPartNumber)
}

func TestLazyOverflowMaterialization(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// Shrink the eager cap so the plan overflows it.
	f.coordinator.cfg.MaxEagerParts = 10

	v := f.create(t, 1024<<20+410<<10)
	require.Equal(t, 33, v.TotalParts)
	require.Len(t, v.Parts, 10)

	first, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 20)
	require.NoError(t, err)
	require.Len(t, first.URLs, 20)
	require.Equal(t, 21, *first.NextPartNumber)

	stored, err := f.repository.GetVideo(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, stored.Parts, 20)

	second, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 20)
	require.NoError(t, err)
	require.Len(t, second.URLs, 13)
	require.Nil(t, second.NextPartNumber)
}

func TestGenerateBatchIsAllOrNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 100<<20)
	f.store.presignErr = trace.ConnectionProblem(nil, "store down")

	_, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 0)
	require.Error(t, err)

	stored, err := f.repository.GetVideo(context.Background(), v.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusCreated, stored.Status)
	for _, p := range stored.Parts {
		require.Empty(t, p.URL)
	}
}

func TestGenerateBatchRejectsTerminalStates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 100<<20)
	_, err := f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 0)
	require.NoError(t, err)
	for n := 1; n <= 4; n++ {
		_, err := f.coordinator.ReportPartUploaded(context.Background(), v.ID, n, fmt.Sprintf("e%d", n))
		require.NoError(t, err)
	}
	_, err = f.coordinator.CompleteUpload(context.Background(), v.ID)
	require.NoError(t, err)

	_, err = f.coordinator.GenerateBatchOfURLs(context.Background(), v.ID, 0)
	require.True(t, video.IsInvalidTransition(err))
}

func TestReportPartUploadedIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 100<<20)
	first, err := f.coordinator.ReportPartUploaded(context.Background(), v.ID, 2, "etag-2")
	require.NoError(t, err)
	second, err := f.coordinator.ReportPartUploaded(context.Background(), v.ID, 2, "etag-2")
	require.NoError(t, err)
	require.Equal(t, first, second)

	stored, err := f.repository.GetVideo(context.Background(), v.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploading, stored.Status)
}

func TestCompleteUploadRequiresAllParts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 100<<20)
	_, err := f.coordinator.ReportPartUploaded(context.Background(), v.ID, 1, "e1")
	require.NoError(t, err)

	_, err = f.coordinator.CompleteUpload(context.Background(), v.ID)
	require.True(t, trace.IsBadParameter(err))
}

func TestWebhookAfterClientCompleteSkips(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 100<<20)
	for n := 1; n <= 4; n++ {
		_, err := f.coordinator.ReportPartUploaded(context.Background(), v.ID, n, fmt.Sprintf("e%d", n))
		require.NoError(t, err)
	}
	_, err := f.coordinator.CompleteUpload(context.Background(), v.ID)
	require.NoError(t, err)

	result, err := f.coordinator.ReconcileFromWebhook(context.Background(), "uploads", v.Storage.ObjectKey)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.EqualValues(t, 1, f.sender.sent.Load())
}

func TestWebhookUnknownKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.coordinator.ReconcileFromWebhook(context.Background(), "uploads", "video/ghost/file/ghost.mp4")
	require.True(t, trace.IsNotFound(err))
}

func TestCompleteUploadIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := f.create(t, 4<<20)
	_, err := f.coordinator.ReportPartUploaded(context.Background(), v.ID, 1, "X")
	require.NoError(t, err)
	_, err = f.coordinator.CompleteUpload(context.Background(), v.ID)
	require.NoError(t, err)

	again, err := f.coordinator.CompleteUpload(context.Background(), v.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploaded, again.Status)
	require.EqualValues(t, 1, f.sender.sent.Load())
}
