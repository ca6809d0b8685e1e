// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command workgraph runs and administers the workgraph service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/workgraph/pkg/logging"
	"github.com/AleutianAI/workgraph/services/workgraph/config"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	dataDir    string
	logDir     string
	logFormat  string

	cfg    config.Config
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:           "workgraph",
		Short:         "Requirement work graphs with shared layouts and live presence",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				loaded.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("data-dir") {
				loaded.DataDir = dataDir
			}
			if cmd.Flags().Changed("log-dir") {
				loaded.Logging.Dir = logDir
			}
			if cmd.Flags().Changed("log-format") {
				loaded.Logging.Format = logFormat
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded

			logger = logging.New(logging.Config{
				Level:   cfg.LogLevel(),
				LogDir:  cfg.Logging.Dir,
				Service: "workgraph",
				JSON:    cfg.JSONLogs(stderrIsTerminal()),
			})
			slog.SetDefault(logger.Slog())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to workgraph.yaml")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flags.StringVar(&dataDir, "data-dir", "data", "directory holding workgraph.db and layouts")
	flags.StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")
	flags.StringVar(&logFormat, "log-format", config.LogFormatAuto, "console log format: auto, text or json")

	rootCmd.AddCommand(serveCmd, graphCmd, seedCmd)
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "workgraph:", err)
		os.Exit(1)
	}
}
