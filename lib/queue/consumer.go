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

// Package queue implements the reusable SQS consumer runtime: long-poll
// receive, typed parse and dispatch, acknowledge on success, visibility
// extension on slow handlers and poison classification.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/correlation"
	"github.com/fiapx/videoproc/lib/defaults"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Handler parses raw queue messages into T and processes them.
//
// Parse returning (nil, nil) means "not mine, but possibly someone
// else's": the message is neither processed nor acknowledged, so it
// redrives to the DLQ once its retry budget runs out. Parse errors are
// treated the same way but logged at error level.
type Handler[T any] interface {
	Parse(raw []byte) (*T, error)
	Handle(ctx context.Context, msg *T) error
}

// ConsumerConfig configures one consumer loop.
type ConsumerConfig[T any] struct {
	// QueueURL is the SQS queue to poll (required).
	QueueURL string
	// Client is the SQS API client (required).
	Client sqsAPI
	// Handler parses and processes messages (required).
	Handler Handler[T]
	// Component names the consumer in logs and metrics (required).
	Component string

	// Correlation extracts ambient correlation values from a parsed
	// message. When set, handler contexts carry the values.
	Correlation func(*T) correlation.Values
	// OnPoison runs after a non-retryable failure is acknowledged,
	// typically to emit a terminal FAILED event.
	OnPoison func(ctx context.Context, msg *T, err error)
	// PatternClassification enables matching handler error messages
	// against the non-retryable pattern set.
	PatternClassification bool

	// BatchSize is the maximum messages fetched per poll.
	BatchSize int32
	// WaitTime is the server-side long-poll duration.
	WaitTime time.Duration
	// VisibilityTimeout is the queue's visibility timeout. Extensions are
	// requested in increments of this value.
	VisibilityTimeout time.Duration
	// MaxVisibilityExtensions caps extensions per message.
	MaxVisibilityExtensions int
	// Concurrency bounds parallel handler invocations.
	Concurrency int
	// GracePeriod is how long in-flight handlers may run after shutdown.
	GracePeriod time.Duration

	// Logger emits consumer logs.
	Logger *slog.Logger
	// Clock drives polling backoff and visibility extension.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the configuration.
func (cfg *ConsumerConfig[T]) CheckAndSetDefaults() error {
	if cfg.QueueURL == "" {
		return trace.BadParameter("missing queue URL")
	}
	if cfg.Client == nil {
		return trace.BadParameter("missing SQS client")
	}
	if cfg.Handler == nil {
		return trace.BadParameter("missing handler")
	}
	if cfg.Component == "" {
		return trace.BadParameter("missing component name")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaults.QueueBatchSize
	}
	if cfg.WaitTime == 0 {
		cfg.WaitTime = defaults.QueueWaitTime
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = defaults.QueueVisibilityTimeout
	}
	if cfg.MaxVisibilityExtensions == 0 {
		cfg.MaxVisibilityExtensions = defaults.QueueMaxVisibilityExtensions
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > int(cfg.BatchSize) {
		cfg.Concurrency = int(cfg.BatchSize)
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaults.QueueGracePeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, videoproc.ComponentConsumer, "consumer", cfg.Component)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Consumer is one polling loop bound to a queue and a typed handler.
type Consumer[T any] struct {
	cfg     ConsumerConfig[T]
	metrics *consumerMetrics
}

// NewConsumer returns a consumer ready to Run.
func NewConsumer[T any](cfg ConsumerConfig[T]) (*Consumer[T], error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Consumer[T]{cfg: cfg, metrics: metricsFor(cfg.Component)}, nil
}

// Run polls the queue until ctx is cancelled, then drains in-flight
// handlers up to the grace period. It never acknowledges a message whose
// handler was cancelled.
func (c *Consumer[T]) Run(ctx context.Context) error {
	// Handlers survive polling cancellation so in-flight work can finish
	// during the drain window.
	handlerCtx, handlerCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer handlerCancel()

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	c.cfg.Logger.InfoContext(ctx, "Consumer started.", "queue", c.cfg.QueueURL)

poll:
	for ctx.Err() == nil {
		out, err := c.cfg.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.cfg.QueueURL),
			MaxNumberOfMessages: c.cfg.BatchSize,
			WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.metrics.receiveErrors.Inc()
			c.cfg.Logger.ErrorContext(ctx, "Failed to receive messages.", "error", err)
			select {
			case <-ctx.Done():
				break poll
			case <-c.cfg.Clock.After(time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Unclaimed messages become visible again on their own.
				break poll
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				c.process(handlerCtx, m)
			}(msg)
		}
	}

	c.cfg.Logger.InfoContext(ctx, "Consumer stopping, draining in-flight handlers.")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-c.cfg.Clock.After(c.cfg.GracePeriod):
		handlerCancel()
		<-done
	}
	c.cfg.Logger.InfoContext(ctx, "Consumer stopped.")
	return nil
}

func (c *Consumer[T]) process(ctx context.Context, m sqstypes.Message) {
	raw := []byte(aws.ToString(m.Body))

	msg, err := c.cfg.Handler.Parse(raw)
	if err != nil {
		// Malformed messages are left to expire: after the queue's retry
		// budget they redrive to the DLQ for inspection.
		c.metrics.parseErrors.Inc()
		c.cfg.Logger.ErrorContext(ctx, "Failed to parse message, leaving for redrive.",
			"message_id", aws.ToString(m.MessageId),
			"error", err,
		)
		return
	}
	if msg == nil {
		return
	}

	if c.cfg.Correlation != nil {
		ctx = correlation.WithValues(ctx, c.cfg.Correlation(msg))
	}

	stopExtending := c.keepVisible(ctx, m.ReceiptHandle)
	start := time.Now()
	handleErr := c.cfg.Handler.Handle(ctx, msg)
	stopExtending()
	c.metrics.handleDuration.Observe(time.Since(start).Seconds())

	switch {
	case handleErr == nil:
		c.ack(ctx, m)
		c.metrics.processed.Inc()

	case ctx.Err() != nil:
		// The handler was cancelled mid-flight; the message must come
		// back, so it is not acknowledged.
		c.cfg.Logger.WarnContext(ctx, "Handler cancelled, message will be redelivered.",
			"message_id", aws.ToString(m.MessageId))

	case IsNonRetryable(handleErr, c.cfg.PatternClassification):
		c.cfg.Logger.ErrorContext(ctx, "Dropping poison message.",
			"message_id", aws.ToString(m.MessageId),
			"error", handleErr,
		)
		c.ack(ctx, m)
		c.metrics.poison.Inc()
		if c.cfg.OnPoison != nil {
			c.cfg.OnPoison(ctx, msg, handleErr)
		}

	default:
		c.metrics.failures.Inc()
		c.cfg.Logger.WarnContext(ctx, "Handler failed, message will be redelivered.",
			"message_id", aws.ToString(m.MessageId),
			"error", handleErr,
		)
	}
}

func (c *Consumer[T]) ack(ctx context.Context, m sqstypes.Message) {
	_, err := c.cfg.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		// Deletion failure means a duplicate delivery later; handlers are
		// idempotent so this is only worth a warning.
		c.cfg.Logger.WarnContext(ctx, "Failed to delete message.",
			"message_id", aws.ToString(m.MessageId),
			"error", err,
		)
	}
}

// keepVisible extends the message visibility while its handler runs. It
// fires at two thirds of the visibility timeout and requests one more
// timeout's worth each time, up to the configured ceiling.
func (c *Consumer[T]) keepVisible(ctx context.Context, receiptHandle *string) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := c.cfg.Clock.NewTicker(c.cfg.VisibilityTimeout * 2 / 3)
		defer ticker.Stop()
		for extensions := 0; extensions < c.cfg.MaxVisibilityExtensions; extensions++ {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				_, err := c.cfg.Client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          aws.String(c.cfg.QueueURL),
					ReceiptHandle:     receiptHandle,
					VisibilityTimeout: int32(c.cfg.VisibilityTimeout / time.Second),
				})
				if err != nil {
					c.cfg.Logger.WarnContext(ctx, "Failed to extend message visibility.", "error", err)
					return
				}
				c.metrics.visibilityExtensions.Inc()
			}
		}
		c.cfg.Logger.WarnContext(ctx, "Visibility extension ceiling reached, message may be redelivered.")
	}()
	return stop
}
