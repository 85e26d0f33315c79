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

// Package sync mirrors a source directory tree onto a destination: new and
// changed files are copied, files missing from the source are deleted, and
// entries matching the ignore patterns are left alone on both sides.
package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var log = logrus.WithField("component", "sync")

type Options struct {
	Jobs []Job
	// DryRun logs the planned operations without touching the destination
	DryRun bool
	// Watch repeats the sync on Interval until the context is cancelled
	Watch    bool
	Interval time.Duration
	// Fs defaults to the OS filesystem, tests use a memory filesystem
	Fs afero.Fs
}

var DefaultOptions = Options{
	Interval: 30 * time.Second,
}

// Stats summarizes one job run.
type Stats struct {
	Copied      int
	Updated     int
	Deleted     int
	Skipped     int
	Ignored     int
	BytesCopied uint64
}

// Run executes every configured job once, or repeatedly in watch mode.
// A cancelled context is reported as context.Canceled.
func Run(ctx context.Context, options Options) error {
	if len(options.Jobs) == 0 {
		return fmt.Errorf("no sync jobs configured")
	}
	fs := options.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	runAll := func() error {
		for _, job := range options.Jobs {
			stats, err := SyncJob(fs, job, options.DryRun)
			if err != nil {
				return fmt.Errorf("job %q: %w", job.Name, err)
			}
			log.WithFields(logrus.Fields{
				"job":     job.Name,
				"copied":  stats.Copied,
				"updated": stats.Updated,
				"deleted": stats.Deleted,
				"skipped": stats.Skipped,
				"ignored": stats.Ignored,
				"bytes":   humanize.Bytes(stats.BytesCopied),
			}).Info("synchronization completed")
		}
		return nil
	}

	if !options.Watch {
		return runAll()
	}

	log.WithField("interval", options.Interval.String()).Info("watching")
	ticker := time.NewTicker(options.Interval)
	defer ticker.Stop()
	for {
		if err := runAll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SyncJob mirrors one job's source tree onto its destination.
func SyncJob(fs afero.Fs, job Job, dryRun bool) (Stats, error) {
	jobLog := log.WithField("job", job.Name)

	ignoreSet, err := loadIgnoreSet(fs, job.IgnoreFile)
	if err != nil {
		return Stats{}, err
	}
	if _, err := fs.Stat(job.Source); err != nil {
		return Stats{}, fmt.Errorf("unable to read source %q: %w", job.Source, err)
	}

	jobLog.WithFields(logrus.Fields{
		"source":      job.Source,
		"destination": job.Destination,
		"dry_run":     dryRun,
	}).Info("synchronizing")

	s := &syncer{fs: fs, ignore: ignoreSet, dryRun: dryRun, log: jobLog}
	if err := s.syncTree(job.Source, job.Destination, ""); err != nil {
		return s.stats, err
	}
	return s.stats, nil
}

type syncer struct {
	fs     afero.Fs
	ignore *ignoreSet
	dryRun bool
	log    *logrus.Entry
	stats  Stats
}

func (s *syncer) syncTree(src, dst, relPrefix string) error {
	if _, err := s.fs.Stat(dst); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if !s.dryRun {
			if err := s.fs.MkdirAll(dst, 0o755); err != nil {
				return fmt.Errorf("unable to create directory %q: %w", dst, err)
			}
		}
		s.log.WithField("path", dst).Debug("directory created")
	}

	srcEntries, err := afero.ReadDir(s.fs, src)
	if err != nil {
		return fmt.Errorf("unable to list %q: %w", src, err)
	}
	srcNames := map[string]bool{}
	for _, entry := range srcEntries {
		srcNames[entry.Name()] = true
	}

	dstEntries, err := afero.ReadDir(s.fs, dst)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("unable to list %q: %w", dst, err)
		}
		dstEntries = nil
	}

	// remove what the source no longer has
	for _, entry := range dstEntries {
		if srcNames[entry.Name()] {
			continue
		}
		rel := path.Join(relPrefix, entry.Name())
		matched, err := s.ignore.Matches(rel)
		if err != nil {
			return err
		}
		if matched {
			s.stats.Ignored++
			s.log.WithField("path", rel).Debug("ignored during deletion")
			continue
		}
		if !s.dryRun {
			target := filepath.Join(dst, entry.Name())
			if err := s.fs.RemoveAll(target); err != nil {
				return fmt.Errorf("unable to delete %q: %w", target, err)
			}
		}
		s.stats.Deleted++
		s.log.WithField("path", rel).Info("deleted")
	}

	// copy what is new or changed
	for _, entry := range srcEntries {
		rel := path.Join(relPrefix, entry.Name())
		matched, err := s.ignore.Matches(rel)
		if err != nil {
			return err
		}
		if matched {
			s.stats.Ignored++
			s.log.WithField("path", rel).Debug("ignored")
			continue
		}

		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := s.syncTree(srcPath, dstPath, rel); err != nil {
				return err
			}
			continue
		}

		dstInfo, err := s.fs.Stat(dstPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			if err := s.copyFile(srcPath, dstPath, entry); err != nil {
				return err
			}
			s.stats.Copied++
			s.log.WithField("path", rel).Info("copied")
			continue
		}

		same, err := s.filesEqual(srcPath, dstPath, entry, dstInfo)
		if err != nil {
			return err
		}
		if same {
			s.stats.Skipped++
			s.log.WithField("path", rel).Debug("unchanged")
			continue
		}
		if err := s.copyFile(srcPath, dstPath, entry); err != nil {
			return err
		}
		s.stats.Updated++
		s.log.WithField("path", rel).Info("updated")
	}

	return nil
}

// copyFile copies src over dst preserving mode and modification time.
func (s *syncer) copyFile(src, dst string, srcInfo os.FileInfo) error {
	s.stats.BytesCopied += uint64(srcInfo.Size())
	if s.dryRun {
		return nil
	}

	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("unable to open %q: %w", src, err)
	}
	defer in.Close()

	out, err := s.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("unable to copy %q: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("unable to close %q: %w", dst, err)
	}

	if err := s.fs.Chmod(dst, srcInfo.Mode()); err != nil {
		return fmt.Errorf("unable to set mode on %q: %w", dst, err)
	}
	if err := s.fs.Chtimes(dst, time.Now(), srcInfo.ModTime()); err != nil {
		return fmt.Errorf("unable to set times on %q: %w", dst, err)
	}
	return nil
}

// filesEqual compares two files byte by byte, short-circuiting on size.
func (s *syncer) filesEqual(srcPath, dstPath string, srcInfo, dstInfo os.FileInfo) (bool, error) {
	if srcInfo.Size() != dstInfo.Size() {
		return false, nil
	}

	srcFile, err := s.fs.Open(srcPath)
	if err != nil {
		return false, err
	}
	defer srcFile.Close()

	dstFile, err := s.fs.Open(dstPath)
	if err != nil {
		return false, err
	}
	defer dstFile.Close()

	srcBuf := make([]byte, 32*1024)
	dstBuf := make([]byte, 32*1024)
	for {
		srcN, srcErr := io.ReadFull(srcFile, srcBuf)
		dstN, dstErr := io.ReadFull(dstFile, dstBuf)
		if srcN != dstN || !bytes.Equal(srcBuf[:srcN], dstBuf[:dstN]) {
			return false, nil
		}

		srcDone := srcErr == io.EOF || srcErr == io.ErrUnexpectedEOF
		dstDone := dstErr == io.EOF || dstErr == io.ErrUnexpectedEOF
		if srcErr != nil && !srcDone {
			return false, srcErr
		}
		if dstErr != nil && !dstDone {
			return false, dstErr
		}
		if srcDone || dstDone {
			return srcDone == dstDone, nil
		}
	}
}
