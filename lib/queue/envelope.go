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
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc/lib/correlation"
)

// Metadata is the common header of every message on the bus.
type Metadata struct {
	MessageID     string `json:"messageId"`
	CorrelationID string `json:"correlationId"`
	TraceID       string `json:"traceId"`
	SpanID        string `json:"spanId,omitempty"`
	Source        string `json:"source"`
	EventType     string `json:"eventType"`
	Version       string `json:"version,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	RetryCount    int    `json:"retryCount"`
	MaxRetries    int    `json:"maxRetries,omitempty"`
}

// CorrelationValues returns the correlation identifiers carried by the
// metadata, for injection into handler contexts.
func (m Metadata) CorrelationValues() correlation.Values {
	return correlation.Values{
		CorrelationID: m.CorrelationID,
		TraceID:       m.TraceID,
		SpanID:        m.SpanID,
	}
}

// Envelope is the wire format of bus messages: a metadata header plus a
// typed payload.
type Envelope[T any] struct {
	Metadata Metadata `json:"metadata"`
	Payload  T        `json:"payload"`
}

// DecodeEnvelope parses and validates a raw message body. Correlation and
// trace IDs are required; a negative retry count is rejected.
func DecodeEnvelope[T any](raw []byte) (*Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, trace.BadParameter("malformed message envelope: %v", err)
	}
	if env.Metadata.CorrelationID == "" {
		return nil, trace.BadParameter("message envelope missing correlationId")
	}
	if env.Metadata.TraceID == "" {
		return nil, trace.BadParameter("message envelope missing traceId")
	}
	if env.Metadata.RetryCount < 0 {
		return nil, trace.BadParameter("message envelope has negative retryCount %d", env.Metadata.RetryCount)
	}
	return &env, nil
}
