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

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceLifecycle(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, err := New(root, "split-worker", "video-1", nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "split-worker", "video-1"), w.Dir())

	parts, err := w.Mkdir("parts")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(w.Path("parts", "segment_0001.mp4"), []byte("x"), 0o644))
	require.DirExists(t, parts)

	require.NoError(t, w.Close())
	require.NoDirExists(t, w.Dir())

	// Close is idempotent.
	require.NoError(t, w.Close())
}

func TestWorkspaceRejectsTraversal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, tc := range []struct{ tag, id string }{
		{tag: "", id: "v"},
		{tag: "w", id: ""},
		{tag: "w", id: "../escape"},
		{tag: "a/b", id: "v"},
		{tag: "w", id: ".."},
	} {
		_, err := New(root, tc.tag, tc.id, nil)
		require.True(t, trace.IsBadParameter(err), "tag=%q id=%q", tc.tag, tc.id)
	}
}
