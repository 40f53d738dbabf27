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

// Package partsize computes multipart upload plans under the object store
// part constraints.
package partsize

import (
	"github.com/gravitational/trace"
)

const (
	// MinPartSize is the smallest part the object store accepts, except for
	// the last part of an upload.
	MinPartSize int64 = 5 * 1024 * 1024

	// MaxPartSize is the largest part the object store accepts.
	MaxPartSize int64 = 5 * 1024 * 1024 * 1024

	// MaxParts is the maximum number of parts of a single multipart upload.
	MaxParts = 10000

	// DefaultPartSize is the floor applied to computed part sizes. Larger
	// parts mean fewer round trips for mid-sized videos.
	DefaultPartSize int64 = 32 * 1024 * 1024
)

// Plan describes how a video of a given size is split into upload parts.
type Plan struct {
	// PartSize is the size of every part except possibly the last.
	PartSize int64
	// NumberOfParts is the total number of parts.
	NumberOfParts int
}

// PartSizeAt returns the size of the part with the given 1-based number.
func (p Plan) PartSizeAt(partNumber int, totalBytes int64) int64 {
	if partNumber < p.NumberOfParts {
		return p.PartSize
	}
	return totalBytes - int64(p.NumberOfParts-1)*p.PartSize
}

// IsSmallVideo reports whether the video fits in a single part and bypasses
// multipart upload entirely.
func IsSmallVideo(totalBytes int64) bool {
	return totalBytes <= MinPartSize
}

// Calculate returns the part plan for a video of totalBytes. Videos at or
// under MinPartSize get a single virtual part. Anything larger is split so
// that the plan never exceeds MaxParts, with part sizes floored at
// DefaultPartSize.
func Calculate(totalBytes int64) (Plan, error) {
	if totalBytes <= 0 {
		return Plan{}, trace.BadParameter("total size must be positive, got %d", totalBytes)
	}
	if IsSmallVideo(totalBytes) {
		return Plan{PartSize: totalBytes, NumberOfParts: 1}, nil
	}

	partSize := ceilDiv(totalBytes, MaxParts)
	if partSize < DefaultPartSize {
		partSize = DefaultPartSize
	}
	// Unreachable given the DefaultPartSize floor, checked anyway.
	if partSize < MinPartSize {
		return Plan{}, trace.LimitExceeded("part size %d below minimum of %d bytes", partSize, MinPartSize)
	}
	if partSize > MaxPartSize {
		return Plan{}, trace.LimitExceeded("video of %d bytes requires parts above the maximum of %d bytes", totalBytes, MaxPartSize)
	}

	numberOfParts := ceilDiv(totalBytes, partSize)
	if numberOfParts > MaxParts {
		return Plan{}, trace.LimitExceeded("video of %d bytes requires %d parts, maximum is %d", totalBytes, numberOfParts, MaxParts)
	}

	return Plan{PartSize: partSize, NumberOfParts: int(numberOfParts)}, nil
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
