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

// Package eventbus publishes video lifecycle events. Events normally go
// through SNS; in local environments the topic ARN "bypass" routes them
// straight to the worker queue so a LocalStack SNS subscription is not
// required.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/correlation"
	"github.com/fiapx/videoproc/lib/queue"
	"github.com/fiapx/videoproc/lib/video"
)

// TopicBypass routes events directly to the SQS queue instead of SNS.
const TopicBypass = "bypass"

// EventTypeStatusChanged labels every lifecycle event on the bus.
const EventTypeStatusChanged = "VIDEO_STATUS_CHANGED"

// StatusChangedEvent is the payload published whenever a video moves to a
// new lifecycle status.
type StatusChangedEvent struct {
	VideoID       string       `json:"videoId"`
	VideoPath     string       `json:"videoPath"`
	Status        video.Status `json:"status"`
	CorrelationID string       `json:"correlationId"`
	TraceID       string       `json:"traceId"`
	Timestamp     string       `json:"timestamp"`
	UserEmail     string       `json:"userEmail,omitempty"`
	VideoName     string       `json:"videoName,omitempty"`
	Duration      string       `json:"duration,omitempty"`
	DownloadURL   string       `json:"downloadUrl,omitempty"`
	ErrorReason   string       `json:"errorReason,omitempty"`
}

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Config configures a Publisher.
type Config struct {
	// TopicARN is the SNS topic for lifecycle events, or TopicBypass.
	TopicARN string
	// SNS publishes to the topic. Required unless bypassing.
	SNS snsPublisher
	// SQS sends directly to the queue in bypass mode.
	SQS sqsSender
	// QueueURL receives events in bypass mode.
	QueueURL string
	// Logger emits publish logs.
	Logger *slog.Logger
	// Clock stamps events.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the configuration.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.TopicARN == "" {
		return trace.BadParameter("missing topic ARN")
	}
	if cfg.TopicARN == TopicBypass {
		if cfg.SQS == nil {
			return trace.BadParameter("bypass mode requires an SQS client")
		}
		if cfg.QueueURL == "" {
			return trace.BadParameter("bypass mode requires a queue URL")
		}
	} else if cfg.SNS == nil {
		return trace.BadParameter("missing SNS client")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentEventBus)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Publisher emits lifecycle events wrapped in the bus envelope.
type Publisher struct {
	cfg Config
}

// NewPublisher returns a Publisher for the configured destination.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Publisher{cfg: cfg}, nil
}

// PublishStatusChanged wraps the event in an envelope and publishes it.
// Correlation identifiers come from the context when the event does not
// carry its own; the timestamp defaults to the publisher clock.
func (p *Publisher) PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error {
	if event.VideoID == "" {
		return trace.BadParameter("missing video ID in event")
	}
	if !event.Status.IsValid() {
		return trace.BadParameter("invalid status %q in event", event.Status)
	}

	vals := correlation.Resolve(ctx, event.CorrelationID, event.TraceID)
	event.CorrelationID = vals.CorrelationID
	event.TraceID = vals.TraceID
	if event.Timestamp == "" {
		event.Timestamp = p.cfg.Clock.Now().UTC().Format(time.RFC3339)
	}

	envelope := queue.Envelope[StatusChangedEvent]{
		Metadata: queue.Metadata{
			MessageID:     uuid.NewString(),
			CorrelationID: vals.CorrelationID,
			TraceID:       vals.TraceID,
			SpanID:        correlation.NewSpanID(),
			Source:        videoproc.EventSource,
			EventType:     EventTypeStatusChanged,
			Version:       videoproc.EventVersion,
			Timestamp:     event.Timestamp,
			RetryCount:    0,
			MaxRetries:    3,
		},
		Payload: event,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return trace.Wrap(err)
	}

	if p.cfg.TopicARN == TopicBypass {
		_, err = p.cfg.SQS.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.cfg.QueueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			return trace.ConnectionProblem(err, "sending event to queue")
		}
	} else {
		_, err = p.cfg.SNS.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(p.cfg.TopicARN),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"source": {
					DataType:    aws.String("String"),
					StringValue: aws.String(videoproc.EventSource),
				},
				"detailType": {
					DataType:    aws.String("String"),
					StringValue: aws.String(videoproc.EventDetailType),
				},
			},
		})
		if err != nil {
			return trace.ConnectionProblem(err, "publishing event to topic")
		}
	}

	p.cfg.Logger.InfoContext(ctx, "Published status change event.",
		"video_id", event.VideoID,
		"status", event.Status,
		"correlation_id", event.CorrelationID,
	)
	return nil
}
