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

package queue

import (
	"errors"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

type payload struct {
	VideoID string `json:"videoId"`
}

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"metadata": {
			"messageId": "m-1",
			"correlationId": "corr-1",
			"traceId": "4bf92f3577b34da6a3ce929d0e0e4736",
			"spanId": "00f067aa0ba902b7",
			"source": "fiapx.video",
			"eventType": "VIDEO_STATUS_CHANGED",
			"retryCount": 2
		},
		"payload": {"videoId": "v-1"}
	}`)

	env, err := DecodeEnvelope[payload](raw)
	require.NoError(t, err)
	require.Equal(t, "corr-1", env.Metadata.CorrelationID)
	require.Equal(t, 2, env.Metadata.RetryCount)
	require.Equal(t, "v-1", env.Payload.VideoID)

	vals := env.Metadata.CorrelationValues()
	require.Equal(t, "corr-1", vals.CorrelationID)
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", vals.TraceID)
	require.Equal(t, "00f067aa0ba902b7", vals.SpanID)
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		desc string
		raw  string
	}{
		{desc: "malformed json", raw: `{"metadata": {`},
		{desc: "missing correlationId", raw: `{"metadata": {"traceId": "t", "retryCount": 0}}`},
		{desc: "missing traceId", raw: `{"metadata": {"correlationId": "c", "retryCount": 0}}`},
		{desc: "negative retryCount", raw: `{"metadata": {"correlationId": "c", "traceId": "t", "retryCount": -1}}`},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := DecodeEnvelope[payload]([]byte(tc.raw))
			require.True(t, trace.IsBadParameter(err))
		})
	}
}

func TestIsNonRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, IsNonRetryable(nil, true))

	marked := NonRetryable(errors.New("boom"))
	require.True(t, IsNonRetryable(marked, false))
	require.True(t, IsNonRetryable(trace.Wrap(marked), false))

	// Pattern classification is opt-in.
	notFound := trace.NotFound("video does not exist")
	require.False(t, IsNonRetryable(notFound, false))
	require.True(t, IsNonRetryable(notFound, true))

	for _, msg := range []string{
		"S3 returned 404",
		"object NoSuchKey",
		"INVALID codec parameters",
		"segment not found",
	} {
		require.True(t, IsNonRetryable(errors.New(msg), true), msg)
	}

	require.False(t, IsNonRetryable(errors.New("connection reset by peer"), true))
}

func TestNonRetryableUnwraps(t *testing.T) {
	t.Parallel()

	inner := trace.BadParameter("bad input")
	require.True(t, trace.IsBadParameter(NonRetryable(inner)))
	require.Nil(t, NonRetryable(nil))
}
