// Copyright 2026 CleverData
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cleverdata/ferry-agent/internal/api"
	"github.com/cleverdata/ferry-agent/internal/config"
	"github.com/cleverdata/ferry-agent/internal/watchcfg"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify configuration and endpoint connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		fmt.Println("✅ Configuration valid.")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		quiet := zerolog.New(io.Discard)

		client := api.New(cfg.API.BaseURL, cfg.API.TransportMode, cfg.Agent.Hostname, cfg.API.Key, quiet)
		if err := client.Ping(ctx); err != nil {
			fmt.Printf("❌ Ingestion endpoint unreachable: %v\n", err)
		} else {
			fmt.Println("✅ Ingestion endpoint reachable.")
		}

		source := watchcfg.New(cfg.API.BaseURL, cfg.API.ConfigIDs, cfg.API.Key, quiet)
		folders, err := source.Fetch(ctx)
		if err != nil {
			fmt.Printf("❌ Watch configuration fetch failed: %v\n", err)
			return nil
		}
		fmt.Printf("✅ Watch configuration fetched (%d folders).\n", len(folders))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
