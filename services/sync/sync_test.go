// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(content)
}

func TestSyncJobCopiesNewFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/server.properties", "motd=hello")
	writeFile(t, fs, "/src/world/level.dat", "level")

	job, err := NewJob("test", "/src", "/dst", "")
	require.NoError(t, err)

	stats, err := SyncJob(fs, job, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Copied)
	assert.Equal(t, uint64(len("motd=hello")+len("level")), stats.BytesCopied)
	assert.Equal(t, "motd=hello", readFile(t, fs, "/dst/server.properties"))
	assert.Equal(t, "level", readFile(t, fs, "/dst/world/level.dat"))
}

func TestSyncJobUpdatesChangedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/a.txt", "new content")
	writeFile(t, fs, "/dst/a.txt", "old content")
	writeFile(t, fs, "/src/same.txt", "unchanged")
	writeFile(t, fs, "/dst/same.txt", "unchanged")

	job, err := NewJob("test", "/src", "/dst", "")
	require.NoError(t, err)

	stats, err := SyncJob(fs, job, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, "new content", readFile(t, fs, "/dst/a.txt"))
}

func TestSyncJobDetectsSameSizeDifference(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/a.bin", "aaaa")
	writeFile(t, fs, "/dst/a.bin", "aaab")

	job, err := NewJob("test", "/src", "/dst", "")
	require.NoError(t, err)

	stats, err := SyncJob(fs, job, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, "aaaa", readFile(t, fs, "/dst/a.bin"))
}

func TestSyncJobDeletesExtraneous(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/keep.txt", "keep")
	writeFile(t, fs, "/dst/keep.txt", "keep")
	writeFile(t, fs, "/dst/stale.txt", "stale")
	writeFile(t, fs, "/dst/stale-dir/deep.txt", "stale")

	job, err := NewJob("test", "/src", "/dst", "")
	require.NoError(t, err)

	stats, err := SyncJob(fs, job, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Deleted)

	exists, err := afero.Exists(fs, "/dst/stale.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.DirExists(fs, "/dst/stale-dir")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSyncJobHonorsIgnoreFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/ignore.txt", "logs\n*.lock\n")
	writeFile(t, fs, "/src/world/level.dat", "level")
	writeFile(t, fs, "/src/logs/latest.log", "log")
	writeFile(t, fs, "/src/session.lock", "lock")
	// ignored destination entries survive the deletion pass
	writeFile(t, fs, "/dst/logs/other.log", "old log")

	job, err := NewJob("test", "/src", "/dst", "/ignore.txt")
	require.NoError(t, err)

	stats, err := SyncJob(fs, job, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.GreaterOrEqual(t, stats.Ignored, 2)

	exists, err := afero.Exists(fs, "/dst/logs/latest.log")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, "/dst/session.lock")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "old log", readFile(t, fs, "/dst/logs/other.log"))
}

func TestSyncJobDryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/a.txt", "content")
	writeFile(t, fs, "/dst/stale.txt", "stale")

	job, err := NewJob("test", "/src", "/dst", "")
	require.NoError(t, err)

	stats, err := SyncJob(fs, job, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, 1, stats.Deleted)

	// nothing actually changed
	exists, err := afero.Exists(fs, "/dst/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "stale", readFile(t, fs, "/dst/stale.txt"))
}

func TestSyncJobPreservesModTime(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/a.txt", "content")
	modTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/src/a.txt", modTime, modTime))

	job, err := NewJob("test", "/src", "/dst", "")
	require.NoError(t, err)

	_, err = SyncJob(fs, job, false)
	require.NoError(t, err)

	info, err := fs.Stat("/dst/a.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modTime))
}

func TestSyncJobMissingSource(t *testing.T) {
	fs := afero.NewMemMapFs()

	job, err := NewJob("test", "/nowhere", "/dst", "")
	require.NoError(t, err)

	_, err = SyncJob(fs, job, false)
	assert.Error(t, err)
}

func TestRunRequiresJobs(t *testing.T) {
	err := Run(context.Background(), Options{Fs: afero.NewMemMapFs()})
	assert.Error(t, err)
}

func TestRunWatchStopsOnCancel(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/a.txt", "content")

	job, err := NewJob("test", "/src", "/dst", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err = Run(ctx, Options{
		Jobs:     []Job{job},
		Watch:    true,
		Interval: time.Hour,
		Fs:       fs,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "content", readFile(t, fs, "/dst/a.txt"))
}
