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

package video

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a video.
type Status string

const (
	// StatusCreated is a freshly registered video with no uploaded bytes.
	StatusCreated Status = "CREATED"
	// StatusUploading means at least one part URL batch has been issued or
	// a part upload has been reported.
	StatusUploading Status = "UPLOADING"
	// StatusUploaded means the multipart upload is complete.
	StatusUploaded Status = "UPLOADED"
	// StatusSplitting means the splitter has produced segments.
	StatusSplitting Status = "SPLITTING"
	// StatusPrinting means the frame extractor is working on segments.
	StatusPrinting Status = "PRINTING"
	// StatusCompleted is the terminal success state.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is the terminal failure state.
	StatusFailed Status = "FAILED"
)

// statusOrder defines the forward progression used for monotonicity checks.
var statusOrder = map[Status]int{
	StatusCreated:   0,
	StatusUploading: 1,
	StatusUploaded:  2,
	StatusSplitting: 3,
	StatusPrinting:  4,
	StatusCompleted: 5,
	StatusFailed:    6,
}

// transitions is the static table of allowed edges: the forward arrows of
// the lifecycle plus failure from any non-terminal state.
var transitions = map[Status]map[Status]bool{
	StatusCreated:   {StatusUploading: true, StatusFailed: true},
	StatusUploading: {StatusUploaded: true, StatusFailed: true},
	StatusUploaded:  {StatusSplitting: true, StatusFailed: true},
	StatusSplitting: {StatusPrinting: true, StatusFailed: true},
	StatusPrinting:  {StatusCompleted: true, StatusFailed: true},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := statusOrder[s]
	return ok
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the edge (s, to) is allowed.
func (s Status) CanTransitionTo(to Status) bool {
	return transitions[s][to]
}

// Reached reports whether s is at or beyond the given status along the
// forward progression. Terminal failure counts as beyond everything.
func (s Status) Reached(target Status) bool {
	so, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[target]
	if !ok {
		return false
	}
	return so >= to
}

// InvalidTransitionError is returned when a status change violates the
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

// Error implements error.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an invalid status transition.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}
