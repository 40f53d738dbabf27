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

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/fiapx/videoproc/lib/correlation"
	"github.com/fiapx/videoproc/lib/queue"
	"github.com/fiapx/videoproc/lib/video"
)

type fakeSNS struct {
	published []*sns.PublishInput
	err       error
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, in)
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

type fakeSQSSender struct {
	sent []*sqs.SendMessageInput
}

func (f *fakeSQSSender) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("sqs-1")}, nil
}

func TestPublisherConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPublisher(Config{})
	require.True(t, trace.IsBadParameter(err))

	_, err = NewPublisher(Config{TopicARN: "arn:aws:sns:us-east-1:0:events"})
	require.True(t, trace.IsBadParameter(err))

	_, err = NewPublisher(Config{TopicARN: TopicBypass, SQS: &fakeSQSSender{}})
	require.True(t, trace.IsBadParameter(err))
}

func TestPublishStatusChangedViaSNS(t *testing.T) {
	t.Parallel()

	client := &fakeSNS{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pub, err := NewPublisher(Config{
		TopicARN: "arn:aws:sns:us-east-1:0:events",
		SNS:      client,
		Clock:    clock,
	})
	require.NoError(t, err)

	ctx := correlation.WithValues(context.Background(), correlation.Values{
		CorrelationID: "corr-1",
		TraceID:       "4bf92f3577b34da6a3ce929d0e0e4736",
	})
	require.NoError(t, pub.PublishStatusChanged(ctx, StatusChangedEvent{
		VideoID:   "v-1",
		VideoPath: "uploads/video/v-1/file/a.mp4",
		Status:    video.StatusUploaded,
	}))

	require.Len(t, client.published, 1)
	require.Equal(t, "arn:aws:sns:us-east-1:0:events", aws.ToString(client.published[0].TopicArn))

	env, err := queue.DecodeEnvelope[StatusChangedEvent]([]byte(aws.ToString(client.published[0].Message)))
	require.NoError(t, err)
	require.Equal(t, "corr-1", env.Metadata.CorrelationID)
	require.Equal(t, EventTypeStatusChanged, env.Metadata.EventType)
	require.Equal(t, "v-1", env.Payload.VideoID)
	require.Equal(t, video.StatusUploaded, env.Payload.Status)
	require.Equal(t, "corr-1", env.Payload.CorrelationID)
	require.Equal(t, "2025-06-01T12:00:00Z", env.Payload.Timestamp)
}

func TestPublishStatusChangedBypassesToQueue(t *testing.T) {
	t.Parallel()

	sender := &fakeSQSSender{}
	pub, err := NewPublisher(Config{
		TopicARN: TopicBypass,
		SQS:      sender,
		QueueURL: "https://sqs.local/q",
	})
	require.NoError(t, err)

	require.NoError(t, pub.PublishStatusChanged(context.Background(), StatusChangedEvent{
		VideoID:   "v-1",
		VideoPath: "uploads/video/v-1/file/a.mp4",
		Status:    video.StatusFailed,
		ErrorReason: "segmenting failed",
	}))

	require.Len(t, sender.sent, 1)
	require.Equal(t, "https://sqs.local/q", aws.ToString(sender.sent[0].QueueUrl))

	env, err := queue.DecodeEnvelope[StatusChangedEvent]([]byte(aws.ToString(sender.sent[0].MessageBody)))
	require.NoError(t, err)
	// No ambient values: fresh identifiers are generated.
	require.NotEmpty(t, env.Metadata.CorrelationID)
	require.NotEmpty(t, env.Metadata.TraceID)
	require.Equal(t, "segmenting failed", env.Payload.ErrorReason)
}

func TestPublishStatusChangedRejectsBadEvents(t *testing.T) {
	t.Parallel()

	pub, err := NewPublisher(Config{TopicARN: "arn:x", SNS: &fakeSNS{}})
	require.NoError(t, err)

	err = pub.PublishStatusChanged(context.Background(), StatusChangedEvent{Status: video.StatusUploaded})
	require.True(t, trace.IsBadParameter(err))

	err = pub.PublishStatusChanged(context.Background(), StatusChangedEvent{VideoID: "v-1", Status: video.Status("BOGUS")})
	require.True(t, trace.IsBadParameter(err))
}

func TestPublishStatusChangedConnectionProblem(t *testing.T) {
	t.Parallel()

	pub, err := NewPublisher(Config{TopicARN: "arn:x", SNS: &fakeSNS{err: trace.ConnectionProblem(nil, "sns down")}})
	require.NoError(t, err)

	err = pub.PublishStatusChanged(context.Background(), StatusChangedEvent{VideoID: "v-1", Status: video.StatusUploaded})
	require.True(t, trace.IsConnectionProblem(err))
}
