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

// Package correlation carries correlation and trace identifiers across
// async boundaries. Values ride on the context so concurrent logical tasks
// always observe isolated sets.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Values are the ambient identifiers of one logical task.
type Values struct {
	// CorrelationID ties together all work caused by one external request.
	CorrelationID string
	// TraceID is the W3C trace identifier (32 lowercase hex chars).
	TraceID string
	// SpanID is the W3C parent span identifier (16 lowercase hex chars).
	SpanID string
}

type contextKey struct{}

// WithValues returns a context carrying the given values. Any values
// already present are shadowed, not mutated, so sibling tasks holding the
// parent context are unaffected.
func WithValues(ctx context.Context, v Values) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// FromContext returns the ambient values, if any.
func FromContext(ctx context.Context) (Values, bool) {
	v, ok := ctx.Value(contextKey{}).(Values)
	return v, ok
}

// EnsureValues returns a context guaranteed to carry complete values,
// generating any missing identifier.
func EnsureValues(ctx context.Context) (context.Context, Values) {
	v, _ := FromContext(ctx)
	v = fill(v)
	return WithValues(ctx, v), v
}

// Resolve picks correlation and trace IDs for outgoing work: ambient
// context first, then the caller-supplied values, then fresh identifiers.
func Resolve(ctx context.Context, correlationID, traceID string) Values {
	v, _ := FromContext(ctx)
	if v.CorrelationID == "" {
		v.CorrelationID = correlationID
	}
	if v.TraceID == "" {
		v.TraceID = traceID
	}
	return fill(v)
}

func fill(v Values) Values {
	if v.CorrelationID == "" {
		v.CorrelationID = uuid.NewString()
	}
	if v.TraceID == "" {
		v.TraceID = NewTraceID()
	}
	if v.SpanID == "" {
		v.SpanID = NewSpanID()
	}
	return v
}

// NewTraceID returns a random W3C trace ID.
func NewTraceID() string {
	return randomHex(16)
}

// NewSpanID returns a random W3C span ID.
func NewSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never fails on supported platforms.
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Traceparent renders the values as a sampled W3C traceparent header.
func Traceparent(v Values) string {
	return fmt.Sprintf("00-%s-%s-01", v.TraceID, v.SpanID)
}

var traceparentRe = regexp.MustCompile(`^00-([0-9a-f]{32})-([0-9a-f]{16})-[0-9a-f]{2}$`)

// ParseTraceparent extracts the trace and span IDs from a W3C traceparent
// header. It returns false on any malformed input.
func ParseTraceparent(header string) (traceID, spanID string, ok bool) {
	m := traceparentRe.FindStringSubmatch(header)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
