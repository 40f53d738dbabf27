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

package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeRanges(t *testing.T) {
	t.Parallel()

	// 25 s video with 10 s segments: two full windows and a 5 s tail.
	ranges := TimeRanges(25_000, 10_000)
	require.Equal(t, []TimeRange{
		{StartSec: 0, EndSec: 10},
		{StartSec: 10, EndSec: 20},
		{StartSec: 20, EndSec: 25},
	}, ranges)

	// Exact multiple has no tail.
	require.Len(t, TimeRanges(60_000, 10_000), 6)

	// Shorter than one segment is a single clipped window.
	require.Equal(t, []TimeRange{{StartSec: 0, EndSec: 3.5}}, TimeRanges(3_500, 10_000))

	require.Nil(t, TimeRanges(0, 10_000))
	require.Nil(t, TimeRanges(10_000, 0))
}

func TestTimeRangesCoverage(t *testing.T) {
	t.Parallel()

	for _, durationMs := range []int64{1, 999, 1000, 9_999, 10_000, 10_001, 59_123, 3_600_000} {
		ranges := TimeRanges(durationMs, 10_000)
		require.NotEmpty(t, ranges)

		var coveredMs float64
		prevEnd := 0.0
		for _, r := range ranges {
			require.Equal(t, prevEnd, r.StartSec, "ranges must be contiguous")
			require.Greater(t, r.EndSec, r.StartSec)
			coveredMs += (r.EndSec - r.StartSec) * 1000
			prevEnd = r.EndSec
		}
		require.InDelta(t, float64(durationMs), coveredMs, 0.001)
	}
}

func TestSegmentArgs(t *testing.T) {
	t.Parallel()

	args := segmentArgs("/tmp/w/in.mp4", "/tmp/w/parts", 10)
	require.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "/tmp/w/in.mp4",
		"-c", "copy",
		"-map", "0",
		"-f", "segment",
		"-segment_time", "10",
		"-segment_start_number", "1",
		"-reset_timestamps", "1",
		"/tmp/w/parts/segment_%04d.mp4",
	}, args)
}

func TestExtractFramesArgs(t *testing.T) {
	t.Parallel()

	args := extractFramesArgs("/tmp/w/in.mp4", "/tmp/w/prints", TimeRange{StartSec: 10, EndSec: 20.5}, 1, 11)
	require.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", "10",
		"-to", "20.5",
		"-i", "/tmp/w/in.mp4",
		"-vf", "fps=1/1",
		"-start_number", "11",
		"/tmp/w/prints/frame_%04d.png",
	}, args)
}

func TestProbeArgs(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"/tmp/w/in.mp4",
	}, probeArgs("/tmp/w/in.mp4"))
}
