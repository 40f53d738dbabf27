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
	"strings"
)

// nonRetryableError marks a handler failure as poison: redelivering the
// message can never succeed, so the consumer acknowledges it instead of
// letting visibility expire.
type nonRetryableError struct {
	err error
}

// NonRetryable wraps err as a poison failure.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// Error implements error.
func (e *nonRetryableError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *nonRetryableError) Unwrap() error {
	return e.err
}

// nonRetryablePatterns are matched case-insensitively against error
// messages when a consumer opts into pattern classification. They cover
// the usual "the referenced thing is gone or the input is garbage" family
// where a retry can never help.
var nonRetryablePatterns = []string{
	"404",
	"does not exist",
	"nosuchkey",
	"invalid",
	"not found",
}

// IsNonRetryable reports whether err is poison. Explicit NonRetryable
// wrapping always counts; message patterns are consulted only when the
// consumer declared pattern-based classification.
func IsNonRetryable(err error, usePatterns bool) bool {
	if err == nil {
		return false
	}
	var marked *nonRetryableError
	if errors.As(err, &marked) {
		return true
	}
	if !usePatterns {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
