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
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcbridge/mcbridge/api"
)

// statusViper represents the configuration of the status command
var statusViper = viper.New()

const statusURLKey = "url"
const statusURLEnv = "MCBRIDGE_STATUS_URL"

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the relay status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _args []string) error {
		client := resty.New().SetBaseURL(statusViper.GetString(statusURLKey))

		status, err := fetchStatus(client)
		if err != nil {
			return err
		}

		cmd.Println(renderStatus(status))
		return nil
	},
}

func fetchStatus(client *resty.Client) (*api.RelayStatus, error) {
	var status api.RelayStatus

	resp, err := client.R().
		SetResult(&status).
		Get("/status")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status request failed: %s", resp.Status())
	}

	return &status, nil
}

func renderStatus(status *api.RelayStatus) string {
	var builder strings.Builder

	if status.AgentAttached {
		fmt.Fprintf(&builder, "Agent attached from %s\n", status.AgentAddr)
	} else {
		builder.WriteString("No agent attached\n")
	}
	fmt.Fprintf(
		&builder,
		"%d client(s), %s received, %s sent\n",
		len(status.Clients),
		humanize.Bytes(status.TotalBytesIn),
		humanize.Bytes(status.TotalBytesOut),
	)

	if len(status.Clients) > 0 {
		output := []string{"UID | REMOTE | CONNECTED | RECEIVED | SENT"}
		for _, client := range status.Clients {
			output = append(output, strings.Join([]string{
				fmt.Sprintf("%d", client.UID),
				client.RemoteAddr,
				humanize.Time(client.ConnectedAt),
				humanize.Bytes(client.BytesIn),
				humanize.Bytes(client.BytesOut),
			}, " | "))
		}
		builder.WriteString(columnize.SimpleFormat(output))
	}

	return strings.TrimRight(builder.String(), "\n")
}

func init() {
	statusViper.SetDefault(statusURLKey, "http://127.0.0.1:8780")
	_ = statusViper.BindEnv(statusURLKey, statusURLEnv)
	statusCmd.Flags().String(
		statusURLKey,
		statusViper.GetString(statusURLKey),
		"Base URL of the relay status API",
	)

	// Bind "cobra" flags defined in the CLI with viper
	_ = statusViper.BindPFlags(statusCmd.Flags())
}
