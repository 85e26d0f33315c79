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
	"fmt"
	"sort"
	"strings"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcbridge/mcbridge/cmd/services"
	"github.com/mcbridge/mcbridge/cmd/services/utils"
)

// runViper represents the configuration of the run command
var runViper = viper.New()

const runServiceKey = "service"
const runServiceEnv = "SERVICE"
const runListKey = "list"

type serviceEntry struct {
	aliases     []string
	description string
	run         func(ctx context.Context) error
}

// serviceEntries maps the canonical service names, container images keep
// using the historical script names as aliases.
var serviceEntries = map[string]serviceEntry{
	"relay": {
		aliases:     []string{"public_server"},
		description: "Public relay accepting game clients and one agent",
		run:         services.RunRelay,
	},
	"agent": {
		aliases:     []string{"nat_server"},
		description: "Private agent tunneling the local game server to the relay",
		run:         services.RunAgent,
	},
	"sync": {
		aliases:     []string{"sync_folders"},
		description: "One way folder mirroring",
		run:         runSyncFromConfig,
	},
}

// resolveService maps a requested service name or alias to its canonical
// name, the second return is false when the name is unknown.
func resolveService(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := serviceEntries[name]; ok {
		return name, true
	}
	for canonical, entry := range serviceEntries {
		for _, alias := range entry.aliases {
			if alias == name {
				return canonical, true
			}
		}
	}
	return "", false
}

func knownServiceNames() []string {
	names := []string{}
	for canonical, entry := range serviceEntries {
		names = append(names, canonical)
		names = append(names, entry.aliases...)
	}
	sort.Strings(names)
	return names
}

func listServices() string {
	output := []string{"SERVICE | ALIASES | DESCRIPTION"}
	canonicals := []string{}
	for canonical := range serviceEntries {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)
	for _, canonical := range canonicals {
		entry := serviceEntries[canonical]
		output = append(output, strings.Join([]string{
			canonical,
			strings.Join(entry.aliases, ", "),
			entry.description,
		}, " | "))
	}
	return columnize.SimpleFormat(output)
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the service selected by the SERVICE environment variable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _args []string) error {
		if runViper.GetBool(runListKey) {
			cmd.Println(listServices())
			return nil
		}

		err := services.ConfigureLog(servicesViperForRun())
		if err != nil {
			return err
		}

		requested := runViper.GetString(runServiceKey)
		canonical, ok := resolveService(requested)
		if !ok {
			return fmt.Errorf(
				"unknown service %q expecting one of %v",
				requested,
				knownServiceNames(),
			)
		}

		ctx := utils.ContextWithUserTermination(context.Background())
		return serviceEntries[canonical].run(ctx)
	},
}

// servicesViperForRun builds the log configuration for the run command, it
// reads the same MCBRIDGE_LOG_* environment variables as the services
// subcommands.
func servicesViperForRun() *viper.Viper {
	logViper := viper.New()
	logViper.SetDefault("log_level", "info")
	_ = logViper.BindEnv("log_level", "MCBRIDGE_LOG_LEVEL")
	_ = logViper.BindEnv("log_file", "MCBRIDGE_LOG_FILE")
	_ = logViper.BindEnv("log_format", "MCBRIDGE_LOG_FORMAT")
	return logViper
}

func init() {
	runViper.SetDefault(runServiceKey, "public_server")
	_ = runViper.BindEnv(runServiceKey, runServiceEnv)
	runCmd.Flags().String(
		runServiceKey,
		runViper.GetString(runServiceKey),
		"Service to run, a name or alias from the --list output",
	)

	runCmd.Flags().Bool(
		runListKey,
		false,
		"List the available services and exit",
	)

	// Don't sort alphabetically, keep insertion order
	runCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = runViper.BindPFlags(runCmd.Flags())
}
