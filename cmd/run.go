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
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cleverdata/ferry-agent/internal/api"
	"github.com/cleverdata/ferry-agent/internal/config"
	"github.com/cleverdata/ferry-agent/internal/core"
	"github.com/cleverdata/ferry-agent/internal/debounce"
	"github.com/cleverdata/ferry-agent/internal/fileio"
	"github.com/cleverdata/ferry-agent/internal/notify"
	"github.com/cleverdata/ferry-agent/internal/postproc"
	"github.com/cleverdata/ferry-agent/internal/stats"
	"github.com/cleverdata/ferry-agent/internal/watchcfg"
)

// RunAgent is the entry point for the long-running process.
func RunAgent() error {
	// reload config just in case
	stderrLog := zerolog.New(os.Stderr)
	if err := viper.ReadInConfig(); err != nil {
		stderrLog.Warn().Err(err).Msg("config not found or invalid")
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		stderrLog.Error().Err(err).Msg("invalid configuration")
		return err
	}

	logger, cleanup, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info().Str("version", Version).Str("endpoint", cfg.API.BaseURL).
		Strs("config_ids", cfg.API.ConfigIDs).Msg("ferry agent starting")

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Email != nil {
		notifier = notify.NewEmail(*cfg.Email, logger)
		logger.Info().Str("smtp", cfg.Email.SMTPServer).Msg("email notifications enabled")
	}

	apiClient := api.New(cfg.API.BaseURL, cfg.API.TransportMode, cfg.Agent.Hostname, cfg.API.Key, logger)
	source := watchcfg.New(cfg.API.BaseURL, cfg.API.ConfigIDs, cfg.API.Key, logger)
	tracker := stats.New(notifier, cfg.Agent.AuditDir, logger)

	engine := core.New(*cfg, apiClient, source,
		debounce.New(cfg.Agent.DebounceWindow),
		fileio.New(logger),
		postproc.New(logger),
		tracker, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	if err := engine.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("pipeline exited with error")
		return err
	}
	return nil
}

// newLogger builds the process logger: console output when interactive,
// JSON otherwise, optionally teeing to a log file.
func newLogger(cfg config.LogConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	cleanup := func() {}

	var writers []io.Writer
	if service.Interactive() {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}
	if cfg.File != "" {
		f, ferr := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if ferr != nil {
			return zerolog.Logger{}, cleanup, ferr
		}
		cleanup = func() { f.Close() }
		writers = append(writers, f)
	}

	out := writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), cleanup, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground (Internal Use)",
	Long:  `Runs the watcher process directly. Usually invoked by the service manager.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if service.Interactive() {
			return RunAgent()
		}
		// When running as a service we must hand control to the service
		// manager so it can track process state.
		s, err := getService(viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		return s.Run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
