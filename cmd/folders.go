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

	"github.com/cleverdata/ferry-agent/internal/config"
	"github.com/cleverdata/ferry-agent/internal/watchcfg"
)

var foldersCmd = &cobra.Command{
	Use:     "folders",
	Aliases: []string{"ls"},
	Short:   "Fetch and list the active watch configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		source := watchcfg.New(cfg.API.BaseURL, cfg.API.ConfigIDs, cfg.API.Key, zerolog.New(io.Discard))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		folders, err := source.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetching watch configuration: %w", err)
		}
		if len(folders) == 0 {
			fmt.Println("No folders configured.")
			return nil
		}

		fmt.Printf("% -15s % -35s % -10s % -8s %s\n", "NAME", "PATH", "CLIENT", "ARCHIVE", "RELAY")
		fmt.Println("--------------------------------------------------------------------------------")
		for _, f := range folders {
			relay := "-"
			if f.Relay.Enabled {
				relay = fmt.Sprintf("%s://%s", f.Relay.Scheme, f.Relay.Server)
			}
			archive := "no"
			if f.EnableArchive {
				archive = "yes"
			}
			fmt.Printf("% -15s % -35s % -10s % -8s %s\n", f.Name, f.Path, f.ClientCode, archive, relay)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(foldersCmd)
}
