// Copyright 2026 R5 Labs
// This file is part of the r5peer library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/r5labs/r5peer/internal/peerconfig"
	"github.com/r5labs/r5peer/internal/peernode"
	"github.com/r5labs/r5peer/log"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to the peer's JSON configuration document",
		EnvVars: []string{"PEER_CONFIG"},
		Value:   "configs/peer1.json",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "one of crit, error, warn, info, debug",
		Value: "info",
	}
	storageDirFlag = &cli.StringFlag{
		Name:  "storage-dir",
		Usage: "overrides the config document's storage_dir (persistent snapshot location)",
	}
)

func main() {
	app := &cli.App{
		Name:  "peer",
		Usage: "run a P2P file-index overlay peer",
		Flags: []cli.Flag{configFlag, logLevelFlag, storageDirFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log.SetLevel(log.ParseLevel(ctx.String("log-level")))

	cfg, err := peerconfig.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	if dir := ctx.String("storage-dir"); dir != "" {
		cfg.StorageDir = dir
	}

	peer := peernode.New(cfg)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	return peer.Run(runCtx)
}
