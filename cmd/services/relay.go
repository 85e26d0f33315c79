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

package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcbridge/mcbridge/cmd/services/utils"
	"github.com/mcbridge/mcbridge/services/relay"
	"github.com/mcbridge/mcbridge/version"
)

// relayViper represents the configuration of the relay command
var relayViper = viper.New()

const relayPortKey = "port"
const relayPortEnv = "MCBRIDGE_RELAY_PORT"
const relayControlPortKey = "control_port"
const relayControlPortEnv = "MCBRIDGE_RELAY_CONTROL_PORT"
const relayStatusPortKey = "status_port"
const relayStatusPortEnv = "MCBRIDGE_RELAY_STATUS_PORT"
const relayKeepaliveTimeoutKey = "keepalive_timeout"
const relayKeepaliveTimeoutEnv = "MCBRIDGE_RELAY_KEEPALIVE_TIMEOUT"

// relayCmd represents the relay command
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the public relay",
	Args:  cobra.NoArgs,
	RunE: func(_cmd *cobra.Command, _args []string) error {
		err := ConfigureLog(servicesViper)
		if err != nil {
			return err
		}

		ctx := utils.ContextWithUserTermination(context.Background())
		return RunRelay(ctx)
	},
}

// RunRelay runs the relay service with the configuration of the
// `services relay` command. It is shared with the `run` dispatch command.
func RunRelay(ctx context.Context) error {
	log.WithFields(logrus.Fields{
		"version": version.Version,
		"hash":    version.Hash,
	}).Info("starting the relay service")

	options := relay.Options{
		ClientPort:       relayViper.GetUint(relayPortKey),
		AgentPort:        relayViper.GetUint(relayControlPortKey),
		StatusPort:       relayViper.GetUint(relayStatusPortKey),
		AgentReadTimeout: relayViper.GetDuration(relayKeepaliveTimeoutKey),
	}

	err := relay.Run(ctx, options)
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
	relayViper.SetDefault(relayPortKey, relay.DefaultOptions.ClientPort)
	_ = relayViper.BindEnv(relayPortKey, relayPortEnv)
	relayCmd.Flags().Uint(
		relayPortKey,
		relayViper.GetUint(relayPortKey),
		"The TCP port game clients connect to",
	)

	relayViper.SetDefault(relayControlPortKey, relay.DefaultOptions.AgentPort)
	_ = relayViper.BindEnv(relayControlPortKey, relayControlPortEnv)
	relayCmd.Flags().Uint(
		relayControlPortKey,
		relayViper.GetUint(relayControlPortKey),
		"The TCP port the agent connects to",
	)

	relayViper.SetDefault(relayStatusPortKey, relay.DefaultOptions.StatusPort)
	_ = relayViper.BindEnv(relayStatusPortKey, relayStatusPortEnv)
	relayCmd.Flags().Uint(
		relayStatusPortKey,
		relayViper.GetUint(relayStatusPortKey),
		"The http port the status API listens on",
	)

	relayViper.SetDefault(relayKeepaliveTimeoutKey, relay.DefaultOptions.AgentReadTimeout)
	_ = relayViper.BindEnv(relayKeepaliveTimeoutKey, relayKeepaliveTimeoutEnv)
	relayCmd.Flags().Duration(
		relayKeepaliveTimeoutKey,
		relayViper.GetDuration(relayKeepaliveTimeoutKey),
		"Duration after which a silent agent link is dropped",
	)

	// Don't sort alphabetically, keep insertion order
	relayCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = relayViper.BindPFlags(relayCmd.Flags())
}
