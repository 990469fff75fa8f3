package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/1ureka/blobrepl/internal/signaling"
	"github.com/1ureka/blobrepl/internal/transport"
	"github.com/1ureka/blobrepl/internal/util"
)

// WSPath is where the WebSocket host accepts replication peers.
const WSPath = "/replicate"

// ListenTCP listens on addr and serves every peer that connects.
func (a *App) ListenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.ServeTCP(ctx, ln)
}

// ServeTCP runs one session per accepted connection until ctx is
// cancelled. A failed session is logged and does not stop the host.
func (a *App) ServeTCP(ctx context.Context, ln net.Listener) error {
	util.LogInfo("accepting replication peers on tcp://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			peer := conn.RemoteAddr().String()
			if err := a.replicate(ctx, peer, transport.FromConn(conn)); err != nil {
				util.LogWarning("session with %s failed: %v", peer, err)
			}
		}()
	}
}

// ListenWS serves replication over WebSocket on addr.
func (a *App) ListenWS(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.ServeWS(ctx, ln)
}

// ServeWS runs one session per WebSocket connection on WSPath until ctx
// is cancelled.
func (a *App) ServeWS(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(WSPath, transport.WebSocketHandler(func(r *http.Request, d transport.Duplex) {
		if err := a.replicate(ctx, r.RemoteAddr, d); err != nil {
			util.LogWarning("session with %s failed: %v", r.RemoteAddr, err)
		}
	}))
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	util.LogInfo("accepting replication peers on ws://%s%s", ln.Addr(), WSPath)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// HostWebRTC waits for one client on the signaling server at addr and
// replicates with it over a WebRTC DataChannel.
func (a *App) HostWebRTC(ctx context.Context, addr string) error {
	peer, err := signaling.EstablishAsHost(ctx, addr, a.cfg.PIN, a.cfg.ICEServers, printHostInfo)
	if err != nil {
		return fmt.Errorf("failed to establish peer connection: %w", err)
	}
	defer peer.Close()

	util.LogSuccess("P2P connection established, replicating")
	return a.replicate(ctx, "webrtc", peer.Duplex())
}

func printHostInfo(info signaling.HostInfo) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        WebSocket Signaling Server        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Port : %-32d ║\n", info.Port)
	fmt.Printf("║  PIN  : %-32s ║\n", info.PIN)
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Println("║  Connect with:                           ║")
	fmt.Printf("║  ws://<host>:%d/ws?pin=%-14s ║\n", info.Port, info.PIN)
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
}
