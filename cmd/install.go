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
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// program implements the service.Interface
type program struct{}

func (p *program) Start(s service.Service) error {
	go p.run()
	return nil
}

func (p *program) Stop(s service.Service) error {
	return nil
}

func (p *program) run() {
	_ = RunAgent()
}

func getService(configPath string) (service.Service, error) {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	svcConfig := &service.Config{
		Name:        "FerryAgent",
		DisplayName: "Ferry Edge Agent",
		Description: "Watches configured folders and forwards data files to the ingestion platform.",
		Arguments:   args,
	}

	prg := &program{}
	return service.New(prg, svcConfig)
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the Ferry Agent as a system service",
	Run: func(cmd *cobra.Command, args []string) {
		// Find current config file to pass to the service
		configPath := viper.ConfigFileUsed()
		if configPath == "" {
			fmt.Println("Error: No config file found. Create one before installing the service.")
			return
		}

		s, err := getService(configPath)
		if err != nil {
			fmt.Printf("Setup failed: %v\n", err)
			return
		}

		// Check if already installed
		status, err := s.Status()
		if err == nil {
			fmt.Println("Ferry Agent is already installed.")
			if status == service.StatusRunning {
				fmt.Println("Service is currently RUNNING.")
			} else {
				fmt.Println("Service is currently STOPPED.")
			}
			fmt.Println("Use 'ferry restart' to apply config changes, or 'ferry uninstall' to remove it.")
			return
		}

		fmt.Println("Installing Ferry Agent Service...")
		if err := s.Install(); err != nil {
			fmt.Printf("Failed to install: %v\n", err)
			fmt.Println("Hint: Ensure you are running with administrative privileges.")
			return
		}
		fmt.Println("Service installed successfully.")

		fmt.Println("Starting service...")
		if err := s.Start(); err != nil {
			fmt.Printf("Failed to start: %v\n", err)
			return
		}
		fmt.Println("Service started.")
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the Ferry Agent Service",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := getService("")
		if err != nil {
			fmt.Println(err)
			return
		}

		if status, serr := s.Status(); serr == nil && status == service.StatusRunning {
			fmt.Println("Stopping service...")
			if err := s.Stop(); err != nil {
				fmt.Printf("Failed to stop: %v\n", err)
			}
		}

		fmt.Println("Uninstalling Ferry Agent Service...")
		if err := s.Uninstall(); err != nil {
			fmt.Printf("Failed to uninstall: %v\n", err)
			return
		}
		fmt.Println("Service removed.")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the Ferry Agent Service (applies config changes)",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := getService(viper.ConfigFileUsed())
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println("Restarting service...")
		if err := s.Restart(); err != nil {
			fmt.Printf("Failed to restart: %v\n", err)
			return
		}
		fmt.Println("Service restarted.")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the Ferry Agent Service status",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := getService("")
		if err != nil {
			fmt.Println(err)
			return
		}
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service is not installed (%v)\n", err)
			return
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service is RUNNING.")
		case service.StatusStopped:
			fmt.Println("Service is STOPPED.")
		default:
			fmt.Println("Service status is UNKNOWN.")
		}
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
}
