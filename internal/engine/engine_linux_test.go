//go:build linux

package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/precache/internal/fsm"
	"github.com/dsmmcken/precache/internal/precache"
)

// newTestEngine stubs the precache driver and records its invocations.
func newTestEngine() (*Engine, *[][]string) {
	e := New()
	var calls [][]string
	e.runPrecache = func(paths []string) precache.Stats {
		calls = append(calls, paths)
		return precache.Stats{FilesQueued: len(paths)}
	}
	return e, &calls
}

func makeDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
	return dir
}

// readAll drains a handle through the engine.
func readAll(e *Engine, h Handle) []string {
	var out []string
	for {
		name, ok := e.Readdir(h)
		if !ok {
			return out
		}
		out = append(out, name)
	}
}

func TestOpendirDrainsDirectory(t *testing.T) {
	dir := makeDir(t, "e1", "e2", "e3")
	e, _ := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, readAll(e, 1))

	// Exhausted stream keeps returning false.
	_, ok := e.Readdir(1)
	assert.False(t, ok)
}

func TestCopyPatternTriggersOnThirdOpen(t *testing.T) {
	dir := makeDir(t, "e1", "e2", "e3", "e4", "e5")
	e, calls := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)

	var served []string
	next := func() string {
		name, ok := e.Readdir(1)
		require.True(t, ok)
		served = append(served, name)
		return name
	}

	e.Open(filepath.Join(dir, next()))
	require.Empty(t, *calls)
	e.Open(filepath.Join(dir, next()))
	require.Empty(t, *calls)
	third := next()
	e.Open(filepath.Join(dir, third))

	// Fires exactly once, over the current entry and everything after it.
	require.Len(t, *calls, 1)
	got := (*calls)[0]
	require.Len(t, got, 3)
	assert.Equal(t, filepath.Join(dir, third), got[0])

	// Finishing the copy loop does not re-trigger.
	for {
		name, ok := e.Readdir(1)
		if !ok {
			break
		}
		e.Open(filepath.Join(dir, name))
	}
	assert.Len(t, *calls, 1)
}

func TestReaddirOnlyStreamNeverTriggers(t *testing.T) {
	dir := makeDir(t, "e1", "e2", "e3")
	e, calls := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)
	// Two reads before any open veto the stream.
	e.Readdir(1)
	e.Readdir(1)
	name, ok := e.Readdir(1)
	require.True(t, ok)
	e.Open(filepath.Join(dir, name))
	e.Open(filepath.Join(dir, name))
	e.Open(filepath.Join(dir, name))
	assert.Empty(t, *calls)
}

func TestRewinddirResetsDetection(t *testing.T) {
	dir := makeDir(t, "e1", "e2", "e3", "e4")
	e, calls := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)
	e.Readdir(1)
	e.Readdir(1) // veto

	e.Rewinddir(1)

	var served []string
	next := func() string {
		name, ok := e.Readdir(1)
		require.True(t, ok)
		served = append(served, name)
		return name
	}
	e.Open(filepath.Join(dir, next()))
	e.Open(filepath.Join(dir, next()))
	e.Open(filepath.Join(dir, next()))
	assert.Len(t, *calls, 1)
}

func TestOpenOutsideTrackedDirsIsIgnored(t *testing.T) {
	dir := makeDir(t, "e1")
	other := makeDir(t, "x")
	e, calls := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)
	e.Readdir(1)
	e.Open(filepath.Join(other, "x"))         // different directory
	e.Open(filepath.Join(dir, "sub", "deep")) // not a direct child
	assert.Empty(t, *calls)
}

func TestOpenatNonCwdIsIgnored(t *testing.T) {
	dir := makeDir(t, "e1", "e2", "e3")
	e, calls := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)
	next := func() string {
		name, _ := e.Readdir(1)
		return name
	}
	e.Openat(3, filepath.Join(dir, next()))
	e.Openat(3, filepath.Join(dir, next()))
	e.Openat(3, filepath.Join(dir, next()))
	assert.Empty(t, *calls)

	// AT_FDCWD behaves like plain open: an open before any readdir vetoes
	// the rewound stream.
	e.Rewinddir(1)
	e.Openat(unix.AT_FDCWD, filepath.Join(dir, "e1"))
	_, ok := e.Readdir(1)
	assert.True(t, ok)
	assert.Equal(t, fsm.Skip, e.dirs[1].tracker.State())
}

func TestFirstMatchingHandleWins(t *testing.T) {
	dir := makeDir(t, "e1", "e2", "e3")
	e, calls := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)
	e.Opendir(2, dir)

	// Drive the copy pattern; only handle 1 (first in insertion order)
	// sees the opens, so handle 2 stays in its readdir-only track.
	next := func(h Handle) string {
		name, ok := e.Readdir(h)
		require.True(t, ok)
		return name
	}
	e.Open(filepath.Join(dir, next(1)))
	e.Open(filepath.Join(dir, next(1)))
	e.Open(filepath.Join(dir, next(1)))
	require.Len(t, *calls, 1)

	// Handle 2 never saw an open: two readdirs veto it.
	next(2)
	next(2)
	e.Closedir(1)

	// With handle 1 gone, handle 2 is now the first match but sits in Skip.
	e.Open(filepath.Join(dir, "e1"))
	e.Open(filepath.Join(dir, "e1"))
	assert.Len(t, *calls, 1)
}

func TestClosedirForgetsHandle(t *testing.T) {
	dir := makeDir(t, "e1")
	e, _ := newTestEngine()
	defer e.Close()

	e.Opendir(1, dir)
	e.Closedir(1)
	_, ok := e.Readdir(1)
	assert.False(t, ok)
}

func TestCloseDrainsEverything(t *testing.T) {
	dir := makeDir(t, "e1")
	e, _ := newTestEngine()

	e.Opendir(1, dir)
	e.Close()
	_, ok := e.Readdir(1)
	assert.False(t, ok)
}
