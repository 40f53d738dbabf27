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

// Package service wires processes together: environment configuration, AWS
// clients, repository selection and the run loops of the API and workers.
package service

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc/lib/defaults"
)

// Config is the environment-derived process configuration.
type Config struct {
	// ListenAddr is the HTTP listen address of the API process.
	ListenAddr string

	// AWSRegion is the region of all AWS clients.
	AWSRegion string
	// AWSEndpoint overrides the AWS endpoint. Set for LocalStack or MinIO.
	AWSEndpoint string
	// AWSPublicEndpoint is the origin presigned URLs are rewritten to.
	AWSPublicEndpoint string
	// AWSAccessKeyID and AWSSecretAccessKey carry static credentials. Both
	// empty means the SDK default chain.
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// VideoBucket is the bucket new uploads are created in.
	VideoBucket string
	// InputBucket is the bucket workers read source objects from.
	InputBucket string
	// OutputBucket is the bucket workers write artifacts to.
	OutputBucket string

	// QueueURL is the queue polled by the current process and the bypass
	// destination of published events.
	QueueURL string
	// S3EventsQueueURL receives complete-multipart notifications.
	S3EventsQueueURL string
	// TopicARN is the SNS topic of lifecycle events, or "bypass".
	TopicARN string

	// DatabaseURL is the postgres connection string. Empty selects the
	// in-memory repository.
	DatabaseURL string

	// SegmentDuration is the media segment length.
	SegmentDuration time.Duration
	// FrameInterval is the interval between extracted frames.
	FrameInterval time.Duration

	// Logger is the process root logger.
	Logger *slog.Logger
}

// ConfigFromEnv reads the process configuration from the environment.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envOr(defaults.ListenAddrEnv, defaults.HTTPListenAddr),
		AWSRegion:          os.Getenv(defaults.AWSRegionEnv),
		AWSEndpoint:        os.Getenv(defaults.AWSEndpointEnv),
		AWSPublicEndpoint:  os.Getenv(defaults.AWSPublicEndpointEnv),
		AWSAccessKeyID:     os.Getenv(defaults.AWSAccessKeyIDEnv),
		AWSSecretAccessKey: os.Getenv(defaults.AWSSecretAccessKeyEnv),
		VideoBucket:        os.Getenv(defaults.VideoBucketEnv),
		InputBucket:        os.Getenv(defaults.S3InputBucketEnv),
		OutputBucket:       os.Getenv(defaults.S3OutputBucketEnv),
		QueueURL:           os.Getenv(defaults.SQSQueueURLEnv),
		S3EventsQueueURL:   os.Getenv(defaults.S3EventsQueueURLEnv),
		TopicARN:           os.Getenv(defaults.SNSTopicARNEnv),
		DatabaseURL:        os.Getenv(defaults.DatabaseURLEnv),
		Logger:             newLogger(),
	}

	var err error
	if cfg.SegmentDuration, err = envSeconds(defaults.SegmentDurationEnv, defaults.SegmentDuration); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.FrameInterval, err = envSeconds(defaults.FrameIntervalEnv, defaults.FrameInterval); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envSeconds(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0, trace.BadParameter("%s must be a positive number of seconds, got %q", name, v)
	}
	return time.Duration(seconds) * time.Second, nil
}

// newLogger builds the process root logger from LOG_LEVEL and LOG_FORMAT
// and installs it as the slog default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv(defaults.LogLevelEnv)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(os.Getenv(defaults.LogFormatEnv)) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
