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

// Package media wraps the ffmpeg binary for segmenting videos and
// extracting frames. Argument construction is split from execution so the
// command lines stay testable without the binary.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/defaults"
)

// TimeRange is one segment's window within the source video, in seconds.
type TimeRange struct {
	StartSec float64
	EndSec   float64
}

// TimeRanges splits a video of durationMs into contiguous windows of
// segmentDurationMs, with the last window clipped to the video's end. The
// returned ranges are sorted, non-overlapping and cover the whole duration.
func TimeRanges(durationMs, segmentDurationMs int64) []TimeRange {
	if durationMs <= 0 || segmentDurationMs <= 0 {
		return nil
	}
	n := (durationMs + segmentDurationMs - 1) / segmentDurationMs
	ranges := make([]TimeRange, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * segmentDurationMs
		end := (i + 1) * segmentDurationMs
		if end > durationMs {
			end = durationMs
		}
		ranges = append(ranges, TimeRange{
			StartSec: float64(start) / 1000,
			EndSec:   float64(end) / 1000,
		})
	}
	return ranges
}

// Config configures the ffmpeg runner.
type Config struct {
	// Binary is the ffmpeg executable, looked up on PATH by default.
	Binary string
	// ProbeBinary is the ffprobe executable.
	ProbeBinary string
	// Timeout bounds a single invocation.
	Timeout time.Duration
	// Logger emits command logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.ProbeBinary == "" {
		cfg.ProbeBinary = "ffprobe"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.MediaTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(videoproc.ComponentKey, "media")
	}
	return nil
}

// FFmpeg runs the media tool.
type FFmpeg struct {
	cfg Config
}

// NewFFmpeg returns a runner.
func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &FFmpeg{cfg: cfg}, nil
}

// segmentArgs builds the command line that splits input into files
// segment_0001.mp4, segment_0002.mp4, ... of the given duration without
// re-encoding.
func segmentArgs(input, outDir string, segmentSeconds int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-c", "copy",
		"-map", "0",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", segmentSeconds),
		"-segment_start_number", "1",
		"-reset_timestamps", "1",
		filepath.Join(outDir, "segment_%04d.mp4"),
	}
}

// extractFramesArgs builds the command line that samples frames from
// [startSec, endSec] at one frame per intervalSeconds. Frame numbering
// starts at startNumber so segments do not clobber each other's output.
func extractFramesArgs(input, outDir string, r TimeRange, intervalSeconds float64, startNumber int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(r.StartSec),
		"-to", formatSeconds(r.EndSec),
		"-i", input,
		"-vf", fmt.Sprintf("fps=1/%s", formatSeconds(intervalSeconds)),
		"-start_number", fmt.Sprintf("%d", startNumber),
		filepath.Join(outDir, "frame_%04d.png"),
	}
}

func formatSeconds(s float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", s), "0"), ".")
}

// Segment splits input into fixed-duration files under outDir.
func (f *FFmpeg) Segment(ctx context.Context, input, outDir string, segmentDuration time.Duration) error {
	return f.run(ctx, f.cfg.Binary, segmentArgs(input, outDir, int(segmentDuration/time.Second)), nil)
}

// ExtractFrames samples frames from one time range of input into outDir.
func (f *FFmpeg) ExtractFrames(ctx context.Context, input, outDir string, r TimeRange, interval time.Duration, startNumber int) error {
	return f.run(ctx, f.cfg.Binary, extractFramesArgs(input, outDir, r, interval.Seconds(), startNumber), nil)
}

// probeArgs builds the ffprobe command line printing the container
// duration in seconds.
func probeArgs(input string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	}
}

// Probe returns the duration of input as reported by the container.
func (f *FFmpeg) Probe(ctx context.Context, input string) (time.Duration, error) {
	var stdout bytes.Buffer
	if err := f.run(ctx, f.cfg.ProbeBinary, probeArgs(input), &stdout); err != nil {
		return 0, trace.Wrap(err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil || seconds <= 0 {
		return 0, trace.BadParameter("%v reported no usable duration for %v: %q", f.cfg.ProbeBinary, input, stdout.String())
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (f *FFmpeg) run(ctx context.Context, binary string, args []string, stdout *bytes.Buffer) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if stdout != nil {
		cmd.Stdout = stdout
	}

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return trace.LimitExceeded("%v timed out after %v", binary, f.cfg.Timeout)
		}
		return trace.BadParameter("%v failed: %v: %s", binary, err, tail(stderr.String(), 500))
	}
	f.cfg.Logger.DebugContext(ctx, "Media tool finished.",
		"binary", binary,
		"args", strings.Join(args, " "),
		"elapsed", time.Since(start).String(),
	)
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
