// Command blobrepl replicates blob stores between two peers.
//
// This tool replicates a directory (or LevelDB database) of named blobs
// with a peer. One side listens, the other connects; both then exchange
// what they have, transfer what is missing according to their mode, and
// disconnect once both are done.
//
// Transports: plain TCP, WebSocket, or a WebRTC DataChannel negotiated
// through a PIN-protected WebSocket signaling server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/blobrepl/internal/app"
	"github.com/1ureka/blobrepl/internal/config"
	"github.com/1ureka/blobrepl/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.FromArgs("blobrepl", os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		util.LogError("%v", err)
		os.Exit(2)
	}

	if err := util.SetLevel(cfg.LogLevel); err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}
	if cfg.LogJSON {
		util.EnableJSON()
	} else {
		pterm.Info.Println(fmt.Sprintf("Blobrepl v%s", version))
		pterm.Println()
	}

	util.LogDebug("store %s (%s), mode %s, transport %s", cfg.Dir, cfg.Backend, cfg.Mode, cfg.Transport)

	if err := app.Run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			util.LogInfo("interrupted")
			return
		}
		util.LogError("replication failed: %v", err)
		os.Exit(1)
	}

	util.LogSuccess("replication finished")
}
