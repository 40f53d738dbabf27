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

// Package workspace provides scoped scratch directories for worker
// handlers. A workspace lives at {root}/{tag}/{id}, is exclusively owned
// by one handler invocation and is removed on every exit path.
package workspace

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"

	"github.com/fiapx/videoproc/lib/defaults"
)

// Workspace is one handler's scratch directory.
type Workspace struct {
	dir string
	log *slog.Logger
}

// New creates {root}/{tag}/{id}. The id must be a single path element so a
// crafted video id cannot escape the root.
func New(root, tag, id string, log *slog.Logger) (*Workspace, error) {
	if root == "" {
		root = defaults.WorkspaceRoot
	}
	if tag == "" || id == "" {
		return nil, trace.BadParameter("missing workspace tag or id")
	}
	if filepath.Base(tag) != tag || filepath.Base(id) != id || id == "." || id == ".." {
		return nil, trace.BadParameter("workspace tag and id must be single path elements")
	}
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Join(root, tag, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &Workspace{dir: dir, log: log}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

// Mkdir creates a subdirectory and returns its path.
func (w *Workspace) Mkdir(name string) (string, error) {
	dir := w.Path(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", trace.ConvertSystemError(err)
	}
	return dir, nil
}

// Close removes the workspace. Safe to call multiple times; callers defer
// it right after New so cleanup runs on success, error and cancellation
// alike.
func (w *Workspace) Close() error {
	if err := os.RemoveAll(w.dir); err != nil {
		w.log.Warn("Failed to remove workspace.", "dir", w.dir, "error", err)
		return trace.ConvertSystemError(err)
	}
	return nil
}
