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

// Package defaults contains default constants used across the video
// processor codebase.
package defaults

import "time"

// Environment variable names read at process start.
const (
	// AWSRegionEnv is the AWS region of all clients.
	AWSRegionEnv = "AWS_REGION"

	// AWSEndpointEnv overrides the AWS endpoint used by server-side clients.
	// Set when running against LocalStack or MinIO.
	AWSEndpointEnv = "AWS_ENDPOINT"

	// AWSPublicEndpointEnv is the endpoint reachable by clients. Presigned
	// URLs handed to clients are rewritten to this origin.
	AWSPublicEndpointEnv = "AWS_PUBLIC_ENDPOINT"

	// AWSAccessKeyIDEnv and AWSSecretAccessKeyEnv carry static credentials.
	AWSAccessKeyIDEnv     = "AWS_ACCESS_KEY_ID"
	AWSSecretAccessKeyEnv = "AWS_SECRET_ACCESS_KEY"

	// S3InputBucketEnv is the bucket workers read source objects from.
	S3InputBucketEnv = "S3_INPUT_BUCKET"

	// S3OutputBucketEnv is the bucket workers write artifacts to.
	S3OutputBucketEnv = "S3_OUTPUT_BUCKET"

	// VideoBucketEnv is the bucket new uploads are created in.
	VideoBucketEnv = "VIDEO_BUCKET"

	// SQSQueueURLEnv is the queue polled by the current process.
	SQSQueueURLEnv = "SQS_QUEUE_URL"

	// S3EventsQueueURLEnv is the queue receiving the object store's
	// complete-multipart notifications. When set the API process runs the
	// completion consumer alongside the HTTP server.
	S3EventsQueueURLEnv = "S3_EVENTS_QUEUE_URL"

	// SNSTopicARNEnv is the topic status events are published to. The
	// special value "bypass" sends events directly to SQSQueueURLEnv.
	SNSTopicARNEnv = "SNS_TOPIC_ARN"

	// DatabaseURLEnv is the postgres connection string. When empty the
	// process falls back to the in-memory repository.
	DatabaseURLEnv = "DATABASE_URL"

	// SegmentDurationEnv is the segment length in seconds.
	SegmentDurationEnv = "SEGMENT_DURATION"

	// FrameIntervalEnv is the seconds between extracted frames.
	FrameIntervalEnv = "FRAME_INTERVAL"

	// LogLevelEnv and LogFormatEnv control process logging.
	LogLevelEnv  = "LOG_LEVEL"
	LogFormatEnv = "LOG_FORMAT"

	// ListenAddrEnv is the HTTP listen address of the API process.
	ListenAddrEnv = "LISTEN_ADDR"
)

// Queue consumer defaults.
const (
	// QueueWaitTime is the server-side long poll duration.
	QueueWaitTime = 20 * time.Second

	// QueueVisibilityTimeout is the assumed visibility timeout of consumed
	// queues. Extensions are requested in increments of this value.
	QueueVisibilityTimeout = 30 * time.Second

	// QueueMaxVisibilityExtensions caps how many times visibility of a
	// single message is extended while its handler runs.
	QueueMaxVisibilityExtensions = 12

	// QueueBatchSize is the maximum number of messages fetched per poll.
	QueueBatchSize = 10

	// QueueGracePeriod is how long in-flight handlers get to finish after
	// a stop signal.
	QueueGracePeriod = 30 * time.Second
)

// Upload coordinator defaults.
const (
	// URLBatchSize is the number of presigned part URLs issued per batch.
	URLBatchSize = 20

	// PresignTTL is the lifetime of presigned part URLs.
	PresignTTL = time.Hour

	// MaxMaterializedParts caps how many part rows are created eagerly for
	// a single video. Plans larger than the cap are materialized lazily in
	// pages of the same size; callers discover overflow via nextPartNumber.
	MaxMaterializedParts = 1000
)

// Media pipeline defaults.
const (
	// SegmentDuration is the default fixed segment length.
	SegmentDuration = 10 * time.Second

	// FrameInterval is the default interval between extracted frames.
	FrameInterval = time.Second

	// MediaTimeout bounds a single media tool invocation.
	MediaTimeout = 10 * time.Minute

	// WorkspaceRoot is where scoped worker workspaces are created.
	WorkspaceRoot = "/tmp"
)

// HTTP defaults.
const (
	// HTTPListenAddr is the default API listen address.
	HTTPListenAddr = ":8080"

	// HTTPShutdownTimeout bounds graceful HTTP server shutdown.
	HTTPShutdownTimeout = 30 * time.Second

	// HTTPIdleTimeout is the keep-alive idle timeout.
	HTTPIdleTimeout = time.Minute
)

// Repository defaults.
const (
	// RepositoryPingTimeout bounds the health check round trip.
	RepositoryPingTimeout = 5 * time.Second
)
