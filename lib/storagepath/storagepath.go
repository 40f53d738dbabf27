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

// Package storagepath builds and parses the canonical object naming scheme
// {bucket}/video/{videoId}/{context}/{resourceId}.
package storagepath

import (
	"strings"

	"github.com/gravitational/trace"
)

// Context is the kind of resource stored under a video prefix.
type Context string

const (
	// ContextFile holds the original uploaded video file.
	ContextFile Context = "file"
	// ContextParts holds fixed-duration segments produced by the splitter.
	ContextParts Context = "parts"
	// ContextPrints holds frames extracted from segments.
	ContextPrints Context = "prints"
)

// prefix is the fixed second segment of every storage path.
const prefix = "video"

// Path is a parsed storage path.
type Path struct {
	Bucket     string
	VideoID    string
	Context    Context
	ResourceID string
}

// String returns the full {bucket}/video/{videoId}/{context}/{resourceId}
// form of the path.
func (p Path) String() string {
	return strings.Join([]string{p.Bucket, prefix, p.VideoID, string(p.Context), p.ResourceID}, "/")
}

// Key returns the object store key, which is the path without the leading
// bucket segment.
func (p Path) Key() string {
	return strings.Join([]string{prefix, p.VideoID, string(p.Context), p.ResourceID}, "/")
}

// Prefix returns the object store key prefix of the path's context,
// including the trailing slash.
func (p Path) Prefix() string {
	return strings.Join([]string{prefix, p.VideoID, string(p.Context)}, "/") + "/"
}

// VideoFile returns the path of the original uploaded file.
func VideoFile(bucket, videoID, filename string) Path {
	return Path{Bucket: bucket, VideoID: videoID, Context: ContextFile, ResourceID: filename}
}

// VideoPart returns the path of one produced segment.
func VideoPart(bucket, videoID, partID string) Path {
	return Path{Bucket: bucket, VideoID: videoID, Context: ContextParts, ResourceID: partID}
}

// VideoPrint returns the path of one extracted frame.
func VideoPrint(bucket, videoID, printID string) Path {
	return Path{Bucket: bucket, VideoID: videoID, Context: ContextPrints, ResourceID: printID}
}

// Parse parses a full storage path. It requires at least five slash
// separated segments, the literal "video" as the second segment and a known
// context as the fourth.
func Parse(fullPath string) (Path, error) {
	segments := strings.Split(fullPath, "/")
	if len(segments) < 5 {
		return Path{}, trace.BadParameter("storage path %q must have at least 5 segments", fullPath)
	}
	if segments[1] != prefix {
		return Path{}, trace.BadParameter("storage path %q is not a video path", fullPath)
	}
	ctx := Context(segments[3])
	switch ctx {
	case ContextFile, ContextParts, ContextPrints:
	default:
		return Path{}, trace.BadParameter("storage path %q has unknown context %q", fullPath, segments[3])
	}
	if segments[0] == "" || segments[2] == "" {
		return Path{}, trace.BadParameter("storage path %q has empty bucket or video id", fullPath)
	}
	return Path{
		Bucket:     segments[0],
		VideoID:    segments[2],
		Context:    ctx,
		ResourceID: strings.Join(segments[4:], "/"),
	}, nil
}

// ExtractVideoID returns the video ID embedded in a full storage path.
func ExtractVideoID(fullPath string) (string, error) {
	p, err := Parse(fullPath)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return p.VideoID, nil
}
