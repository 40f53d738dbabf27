/*
 * FIAP X Video Processor
 * Copyright (C) 2025  FIAP X
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command videoproc runs the video processor: the HTTP upload coordinator
// API or one of the pipeline workers, selected by subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/fiapx/videoproc/lib/defaults"
	"github.com/fiapx/videoproc/lib/service"
)

func main() {
	app := kingpin.New("videoproc", "FIAP X video processor.")

	apiCmd := app.Command("api", "Run the HTTP upload coordinator API.")
	listenAddr := apiCmd.Flag("listen-addr", "HTTP listen address.").
		Envar(defaults.ListenAddrEnv).Default(defaults.HTTPListenAddr).String()

	splitCmd := app.Command("split-worker", "Run the segment splitting worker.")
	frameCmd := app.Command("frame-worker", "Run the frame extracting worker.")

	command, err := app.Parse(os.Args[1:])
	if err != nil {
		app.Usage(os.Args[1:])
		os.Exit(2)
	}

	cfg, err := service.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case apiCmd.FullCommand():
		cfg.ListenAddr = *listenAddr
		err = service.RunAPI(ctx, cfg)
	case splitCmd.FullCommand():
		err = service.RunSplitWorker(ctx, cfg)
	case frameCmd.FullCommand():
		err = service.RunFrameWorker(ctx, cfg)
	}
	if err != nil {
		cfg.Logger.Error("Process exited with error.", "error", err)
		os.Exit(1)
	}
}
