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

package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/require"

	"github.com/fiapx/videoproc/lib/eventbus"
	"github.com/fiapx/videoproc/lib/queue"
	"github.com/fiapx/videoproc/lib/repo/memory"
	"github.com/fiapx/videoproc/lib/video"
)

type countingSender struct {
	sent   atomic.Int64
	mu     sync.Mutex
	bodies []string
}

func (c *countingSender) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.sent.Add(1)
	c.mu.Lock()
	c.bodies = append(c.bodies, aws.ToString(in.MessageBody))
	c.mu.Unlock()
	return &sqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

func (c *countingSender) lastEvent(t *testing.T) eventbus.StatusChangedEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.bodies)
	env, err := queue.DecodeEnvelope[eventbus.StatusChangedEvent]([]byte(c.bodies[len(c.bodies)-1]))
	require.NoError(t, err)
	return env.Payload
}

func newTestService(t *testing.T) (*Service, *memory.Repository, *countingSender) {
	t.Helper()
	sender := &countingSender{}
	events, err := eventbus.NewPublisher(eventbus.Config{
		TopicARN: eventbus.TopicBypass,
		SQS:      sender,
		QueueURL: "https://sqs.local/q",
	})
	require.NoError(t, err)

	repository := memory.New()
	svc, err := NewService(Config{
		Repository: repository,
		Events:     events,
		Bucket:     "uploads",
	})
	require.NoError(t, err)
	return svc, repository, sender
}

func newUploadingVideo(t *testing.T, repository *memory.Repository) *video.Video {
	t.Helper()
	now := time.Now().UTC()
	v, err := video.New("v-1", "u-1", video.Metadata{
		TotalSizeBytes: 100 << 20,
		DurationMs:     25_000,
		Filename:       "a.mp4",
		Extension:      "mp4",
	}, video.StorageInfo{
		UploadID:  "mp-1",
		ObjectKey: "video/v-1/file/a.mp4",
		Bucket:    "uploads",
	}, 32<<20, 4, now)
	require.NoError(t, err)
	require.NoError(t, v.StartUploadingIfNeeded(now))
	require.NoError(t, repository.CreateVideo(context.Background(), v))
	return v
}

func TestReconcileTransitionsAndPublishesOnce(t *testing.T) {
	t.Parallel()

	svc, repository, sender := newTestService(t)
	v := newUploadingVideo(t, repository)

	result, err := svc.Reconcile(context.Background(), v)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, video.StatusUploaded, result.Status)
	require.EqualValues(t, 1, sender.sent.Load())

	// The event carries everything downstream notifications need.
	event := sender.lastEvent(t)
	require.Equal(t, video.StatusUploaded, event.Status)
	require.Equal(t, "uploads/video/v-1/file/a.mp4", event.VideoPath)
	require.Equal(t, "a.mp4", event.VideoName)
	require.Equal(t, "25s", event.Duration)

	stored, err := repository.GetVideo(context.Background(), "v-1")
	require.NoError(t, err)
	require.Equal(t, video.StatusUploaded, stored.Status)
	require.True(t, stored.IsFullyUploaded())
}

func TestReconcileWalksCreatedThroughUploading(t *testing.T) {
	t.Parallel()

	svc, repository, sender := newTestService(t)
	now := time.Now().UTC()
	v, err := video.New("v-2", "u-1", video.Metadata{TotalSizeBytes: 4 << 20, Filename: "b.mp4", Extension: "mp4"},
		video.StorageInfo{ObjectKey: "video/v-2/file/b.mp4", Bucket: "uploads"}, 4<<20, 1, now)
	require.NoError(t, err)
	require.NoError(t, repository.CreateVideo(context.Background(), v))

	result, err := svc.Reconcile(context.Background(), v)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, video.StatusUploaded, result.Status)
	require.EqualValues(t, 1, sender.sent.Load())
}

func TestReconcileSkipsAtOrBeyondUploaded(t *testing.T) {
	t.Parallel()

	svc, repository, sender := newTestService(t)
	v := newUploadingVideo(t, repository)

	_, err := svc.Reconcile(context.Background(), v)
	require.NoError(t, err)

	stored, err := repository.GetVideo(context.Background(), "v-1")
	require.NoError(t, err)

	result, err := svc.Reconcile(context.Background(), stored)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, video.StatusUploaded, result.Status)
	require.EqualValues(t, 1, sender.sent.Load())
}

func TestConcurrentReconcilersPublishOneEvent(t *testing.T) {
	t.Parallel()

	svc, repository, sender := newTestService(t)
	newUploadingVideo(t, repository)

	const racers = 8
	var wg sync.WaitGroup
	var winners atomic.Int64
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each racer works on its own stale snapshot.
			snapshot, err := repository.GetVideo(context.Background(), "v-1")
			require.NoError(t, err)
			result, err := svc.Reconcile(context.Background(), snapshot)
			require.NoError(t, err)
			if !result.Skipped {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, winners.Load())
	require.EqualValues(t, 1, sender.sent.Load())
}
