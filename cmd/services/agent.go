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
	"github.com/mcbridge/mcbridge/services/agent"
	"github.com/mcbridge/mcbridge/utils/endpoint"
	"github.com/mcbridge/mcbridge/version"
)

// agentViper represents the configuration of the agent command
var agentViper = viper.New()

const agentRelayEndpointKey = "relay_endpoint"
const agentRelayEndpointEnv = "MCBRIDGE_AGENT_RELAY_ENDPOINT"
const agentTargetEndpointKey = "target_endpoint"
const agentTargetEndpointEnv = "MCBRIDGE_AGENT_TARGET_ENDPOINT"
const agentDialTimeoutKey = "dial_timeout"
const agentDialTimeoutEnv = "MCBRIDGE_AGENT_DIAL_TIMEOUT"
const agentKeepaliveIntervalKey = "keepalive_interval"
const agentKeepaliveIntervalEnv = "MCBRIDGE_AGENT_KEEPALIVE_INTERVAL"
const agentReconnectMaxIntervalKey = "reconnect_max_interval"
const agentReconnectMaxIntervalEnv = "MCBRIDGE_AGENT_RECONNECT_MAX_INTERVAL"

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the private agent",
	Args:  cobra.NoArgs,
	RunE: func(_cmd *cobra.Command, _args []string) error {
		err := ConfigureLog(servicesViper)
		if err != nil {
			return err
		}

		ctx := utils.ContextWithUserTermination(context.Background())
		return RunAgent(ctx)
	},
}

// RunAgent runs the agent service with the configuration of the
// `services agent` command. It is shared with the `run` dispatch command.
func RunAgent(ctx context.Context) error {
	log.WithFields(logrus.Fields{
		"version": version.Version,
		"hash":    version.Hash,
	}).Info("starting the agent service")

	relayEndpoint, err := endpoint.Parse(agentViper.GetString(agentRelayEndpointKey))
	if err != nil {
		return err
	}

	targetEndpoint, err := endpoint.Parse(agentViper.GetString(agentTargetEndpointKey))
	if err != nil {
		return err
	}

	options := agent.Options{
		RelayEndpoint:            relayEndpoint,
		TargetEndpoint:           targetEndpoint,
		DialTimeout:              agentViper.GetDuration(agentDialTimeoutKey),
		KeepaliveInterval:        agentViper.GetDuration(agentKeepaliveIntervalKey),
		ReconnectInitialInterval: agent.DefaultOptions.ReconnectInitialInterval,
		ReconnectMaxInterval:     agentViper.GetDuration(agentReconnectMaxIntervalKey),
	}

	err = agent.Run(ctx, options)
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
	agentViper.SetDefault(agentRelayEndpointKey, agent.DefaultOptions.RelayEndpoint)
	_ = agentViper.BindEnv(agentRelayEndpointKey, agentRelayEndpointEnv)
	agentCmd.Flags().String(
		agentRelayEndpointKey,
		agentViper.GetString(agentRelayEndpointKey),
		"Relay control endpoint to connect to",
	)

	agentViper.SetDefault(agentTargetEndpointKey, agent.DefaultOptions.TargetEndpoint)
	_ = agentViper.BindEnv(agentTargetEndpointKey, agentTargetEndpointEnv)
	agentCmd.Flags().String(
		agentTargetEndpointKey,
		agentViper.GetString(agentTargetEndpointKey),
		"Local game server endpoint to expose",
	)

	agentViper.SetDefault(agentDialTimeoutKey, agent.DefaultOptions.DialTimeout)
	_ = agentViper.BindEnv(agentDialTimeoutKey, agentDialTimeoutEnv)
	agentCmd.Flags().Duration(
		agentDialTimeoutKey,
		agentViper.GetDuration(agentDialTimeoutKey),
		"Timeout for dialing the relay and the game server",
	)

	agentViper.SetDefault(agentKeepaliveIntervalKey, agent.DefaultOptions.KeepaliveInterval)
	_ = agentViper.BindEnv(agentKeepaliveIntervalKey, agentKeepaliveIntervalEnv)
	agentCmd.Flags().Duration(
		agentKeepaliveIntervalKey,
		agentViper.GetDuration(agentKeepaliveIntervalKey),
		"Interval between keepalive pings on the relay link",
	)

	agentViper.SetDefault(agentReconnectMaxIntervalKey, agent.DefaultOptions.ReconnectMaxInterval)
	_ = agentViper.BindEnv(agentReconnectMaxIntervalKey, agentReconnectMaxIntervalEnv)
	agentCmd.Flags().Duration(
		agentReconnectMaxIntervalKey,
		agentViper.GetDuration(agentReconnectMaxIntervalKey),
		"Maximum delay between reconnection attempts to the relay",
	)

	// Don't sort alphabetically, keep insertion order
	agentCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = agentViper.BindPFlags(agentCmd.Flags())
}
