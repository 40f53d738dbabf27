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

package service

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/fiapx/videoproc/lib/defaults"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(defaults.AWSRegionEnv, "us-east-1")
	t.Setenv(defaults.VideoBucketEnv, "uploads")
	t.Setenv(defaults.SQSQueueURLEnv, "https://sqs.local/q")
	t.Setenv(defaults.S3InputBucketEnv, "uploads")
	t.Setenv(defaults.SNSTopicARNEnv, "bypass")
	t.Setenv(defaults.SegmentDurationEnv, "15")
	t.Setenv(defaults.FrameIntervalEnv, "")
	t.Setenv(defaults.ListenAddrEnv, "")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "us-east-1", cfg.AWSRegion)
	require.Equal(t, "uploads", cfg.VideoBucket)
	require.Equal(t, "uploads", cfg.InputBucket)
	require.Equal(t, "bypass", cfg.TopicARN)
	require.Equal(t, 15*time.Second, cfg.SegmentDuration)
	require.Equal(t, defaults.FrameInterval, cfg.FrameInterval)
	require.Equal(t, defaults.HTTPListenAddr, cfg.ListenAddr)
	require.NotNil(t, cfg.Logger)
}

func TestConfigFromEnvRejectsBadDurations(t *testing.T) {
	for _, bad := range []string{"abc", "-5", "0"} {
		t.Setenv(defaults.SegmentDurationEnv, bad)
		_, err := ConfigFromEnv()
		require.True(t, trace.IsBadParameter(err), "value %q", bad)
	}
}
