// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/services/workgraph"
	"github.com/AleutianAI/workgraph/services/workgraph/config"
	"github.com/AleutianAI/workgraph/services/workgraph/handlers"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		svcCfg, opts, err := serviceConfig(cfg)
		if err != nil {
			return err
		}

		svc, err := workgraph.New(svcCfg, opts)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if tokens, ok := opts.AuthProvider.(*extensions.StaticTokenProvider); ok && configPath != "" {
			w, err := config.Watch(ctx, configPath, config.DefaultDebounce, reloadTokens(tokens))
			if err != nil {
				slog.Warn("config hot reload disabled", "error", err)
			} else {
				defer w.Stop()
			}
		}
		return svc.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 12230, "HTTP port")
}

// reloadTokens swaps in the token table of each reloaded configuration.
// Other settings need a restart.
func reloadTokens(tokens *extensions.StaticTokenProvider) func(config.Config) {
	return func(c config.Config) {
		if len(c.Tokens) == 0 {
			slog.Warn("reloaded config has no tokens, keeping the current table")
			return
		}
		if err := tokens.Replace(c.TokenTable()); err != nil {
			slog.Warn("token reload rejected", "error", err)
			return
		}
		slog.Info("tokens reloaded", "count", tokens.Len())
	}
}

// serviceConfig maps the file configuration onto the service.
func serviceConfig(c config.Config) (workgraph.Config, *extensions.ServiceOptions, error) {
	svcCfg := workgraph.Config{
		Port:            c.Server.Port,
		DataDir:         c.DataDir,
		GinMode:         c.Server.GinMode,
		OTelEndpoint:    c.Telemetry.OTLPEndpoint,
		TraceExporter:   c.Telemetry.TraceExporter,
		MetricExporter:  c.Telemetry.MetricExporter,
		Locale:          c.LocaleTag(),
		MaxPatchBytes:   c.Live.MaxPatchBytes,
		RefConcurrency:  c.Graph.RefConcurrency,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		Live: handlers.LiveConfig{
			SendBuffer:   c.Live.SendBuffer,
			PatchRate:    rate.Limit(c.Live.PatchRate),
			PatchBurst:   c.Live.PatchBurst,
			PingInterval: c.Live.PingInterval,
		},
	}
	if c.Live.MaxPatchBytes > 0 {
		svcCfg.Live.MaxFrameBytes = int64(c.Live.MaxPatchBytes) + 8<<10
	}

	opts := extensions.DefaultOptions()
	provider, err := c.AuthProvider()
	if err != nil {
		return workgraph.Config{}, nil, err
	}
	if provider != nil {
		opts = opts.WithAuth(provider)
	}
	return svcCfg, &opts, nil
}
