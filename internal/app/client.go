package app

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/1ureka/blobrepl/internal/signaling"
	"github.com/1ureka/blobrepl/internal/transport"
	"github.com/1ureka/blobrepl/internal/util"
)

// DialTCP connects to a TCP host and runs one session.
func (a *App) DialTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	util.LogInfo("connected to %s", addr)
	return a.replicate(ctx, addr, transport.FromConn(conn))
}

// DialWS connects to a WebSocket host and runs one session. A bare
// host:port is completed to ws://host:port/replicate.
func (a *App) DialWS(ctx context.Context, raw string) error {
	wsURL, err := normalizeWSURL(raw, WSPath)
	if err != nil {
		return err
	}
	d, err := transport.DialWebSocket(ctx, wsURL)
	if err != nil {
		return err
	}
	util.LogInfo("connected to %s", wsURL)
	return a.replicate(ctx, wsURL, d)
}

// DialWebRTC signals through the host's WebSocket server and runs one
// session over the resulting DataChannel.
func (a *App) DialWebRTC(ctx context.Context, raw string) error {
	wsURL, err := normalizeWSURL(raw, "/ws")
	if err != nil {
		return err
	}
	peer, err := signaling.EstablishAsClient(ctx, wsURL, a.cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("failed to establish peer connection: %w", err)
	}
	defer peer.Close()

	util.LogSuccess("P2P connection established, replicating")
	return a.replicate(ctx, "webrtc", peer.Duplex())
}

// normalizeWSURL validates a WebSocket URL. The scheme defaults to ws, the
// path to defaultPath; the query (e.g. the signaling PIN) is kept.
func normalizeWSURL(raw, defaultPath string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultPath
	}
	return u.String(), nil
}
