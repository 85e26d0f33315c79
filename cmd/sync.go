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

package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcbridge/mcbridge/cmd/services"
	"github.com/mcbridge/mcbridge/cmd/services/utils"
	foldersync "github.com/mcbridge/mcbridge/services/sync"
	"github.com/mcbridge/mcbridge/version"
)

var log = logrus.WithField("component", "cmd")

// syncViper represents the configuration of the sync command
var syncViper = viper.New()

const syncSourceKey = "source"
const syncSourceEnv = "MCBRIDGE_SYNC_SOURCE"
const syncDestinationKey = "destination"
const syncDestinationEnv = "MCBRIDGE_SYNC_DESTINATION"
const syncIgnoreFileKey = "ignore_file"
const syncIgnoreFileEnv = "MCBRIDGE_SYNC_IGNORE_FILE"
const syncJobsKey = "jobs"
const syncJobsEnv = "MCBRIDGE_SYNC_JOBS"
const syncDryRunKey = "dry_run"
const syncDryRunEnv = "MCBRIDGE_SYNC_DRY_RUN"
const syncWatchKey = "watch"
const syncWatchEnv = "MCBRIDGE_SYNC_WATCH"
const syncIntervalKey = "interval"
const syncIntervalEnv = "MCBRIDGE_SYNC_INTERVAL"

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror a source folder to a destination folder",
	Args:  cobra.NoArgs,
	RunE: func(_cmd *cobra.Command, _args []string) error {
		ctx := utils.ContextWithUserTermination(context.Background())
		return runSyncFromConfig(ctx)
	},
}

// runSyncFromConfig runs the sync service with the configuration of the
// `sync` command. It is shared with the `run` dispatch command.
func runSyncFromConfig(ctx context.Context) error {
	err := services.ConfigureLog(syncViper)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"version": version.Version,
		"hash":    version.Hash,
	}).Info("starting the sync service")

	fs := afero.NewOsFs()

	var jobs []foldersync.Job
	if jobsPath := syncViper.GetString(syncJobsKey); jobsPath != "" {
		jobs, err = foldersync.LoadJobs(fs, jobsPath)
		if err != nil {
			return err
		}
	} else {
		job, err := foldersync.NewJob(
			"default",
			syncViper.GetString(syncSourceKey),
			syncViper.GetString(syncDestinationKey),
			syncViper.GetString(syncIgnoreFileKey),
		)
		if err != nil {
			return err
		}
		jobs = []foldersync.Job{job}
	}

	options := foldersync.Options{
		Jobs:     jobs,
		DryRun:   syncViper.GetBool(syncDryRunKey),
		Watch:    syncViper.GetBool(syncWatchKey),
		Interval: syncViper.GetDuration(syncIntervalKey),
		Fs:       fs,
	}

	err = foldersync.Run(ctx, options)
	if err != nil {
		if err == context.Canceled {
			log.Info("interrupted by user")
			return nil
		}
		return err
	}
	return nil
}

func init() {
	_ = syncViper.BindEnv(syncSourceKey, syncSourceEnv)
	syncCmd.Flags().String(
		syncSourceKey,
		syncViper.GetString(syncSourceKey),
		"Source folder to mirror from",
	)

	_ = syncViper.BindEnv(syncDestinationKey, syncDestinationEnv)
	syncCmd.Flags().String(
		syncDestinationKey,
		syncViper.GetString(syncDestinationKey),
		"Destination folder to mirror to",
	)

	_ = syncViper.BindEnv(syncIgnoreFileKey, syncIgnoreFileEnv)
	syncCmd.Flags().String(
		syncIgnoreFileKey,
		syncViper.GetString(syncIgnoreFileKey),
		"File listing patterns excluded from the mirror",
	)

	_ = syncViper.BindEnv(syncJobsKey, syncJobsEnv)
	syncCmd.Flags().String(
		syncJobsKey,
		syncViper.GetString(syncJobsKey),
		"YAML file describing multiple sync jobs, overrides the single job flags",
	)

	_ = syncViper.BindEnv(syncDryRunKey, syncDryRunEnv)
	syncCmd.Flags().Bool(
		syncDryRunKey,
		syncViper.GetBool(syncDryRunKey),
		"Log the planned operations without touching the destination",
	)

	_ = syncViper.BindEnv(syncWatchKey, syncWatchEnv)
	syncCmd.Flags().Bool(
		syncWatchKey,
		syncViper.GetBool(syncWatchKey),
		"Keep running, repeating the sync on every interval",
	)

	syncViper.SetDefault(syncIntervalKey, foldersync.DefaultOptions.Interval)
	_ = syncViper.BindEnv(syncIntervalKey, syncIntervalEnv)
	syncCmd.Flags().Duration(
		syncIntervalKey,
		syncViper.GetDuration(syncIntervalKey),
		"Interval between syncs in watch mode",
	)

	syncViper.SetDefault("log_level", logrus.InfoLevel.String())
	_ = syncViper.BindEnv("log_level", "MCBRIDGE_LOG_LEVEL")
	_ = syncViper.BindEnv("log_file", "MCBRIDGE_LOG_FILE")
	_ = syncViper.BindEnv("log_format", "MCBRIDGE_LOG_FORMAT")

	// Don't sort alphabetically, keep insertion order
	syncCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = syncViper.BindPFlags(syncCmd.Flags())
}
