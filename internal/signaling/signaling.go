package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/blobrepl/internal/transport"
	"github.com/1ureka/blobrepl/internal/util"
)

// HostInfo describes where a client can reach the host's signaling server.
type HostInfo struct {
	Port int
	PIN  string
}

// EstablishAsHost executes the full host-side signaling flow:
//  1. Start a WS server on addr
//  2. Report the port and PIN through onListen
//  3. Wait for the client to connect
//  4. Create a Peer and send the Offer
//  5. Wait for the DataChannel to be ready
//  6. Close the WS server and connection
//
// An empty pin generates a random one.
func EstablishAsHost(ctx context.Context, addr, pin string, iceServers []string, onListen func(HostInfo)) (*transport.Peer, error) {
	if pin == "" {
		var err error
		if pin, err = NewPIN(); err != nil {
			return nil, fmt.Errorf("generate PIN: %w", err)
		}
	}

	srv := newServer(pin)
	port, err := srv.start(addr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	if onListen != nil {
		onListen(HostInfo{Port: port, PIN: pin})
	}
	util.LogInfo("waiting for a client on signaling port %d", port)

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("client connected")

	peer, err := transport.NewPeer(ctx, iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	s, errCh := exchange(peer, wsConn)

	// Host sends the Offer first.
	if err := s.sendOffer(); err != nil {
		peer.Close()
		return nil, fmt.Errorf("failed to send Offer: %w", err)
	}

	return waitReady(ctx, peer, errCh)
}

// EstablishAsClient executes the full client-side signaling flow:
//  1. Connect to the host's WS server
//  2. Create a Peer and answer the host's Offer
//  3. Wait for the DataChannel to be ready
//  4. Close the WS connection
func EstablishAsClient(ctx context.Context, wsURL string, iceServers []string) (*transport.Peer, error) {
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", wsURL)

	peer, err := transport.NewPeer(ctx, iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	_, errCh := exchange(peer, wsConn)
	return waitReady(ctx, peer, errCh)
}

// exchange wires trickle ICE and starts the receiver loop, which exits
// once wsConn is closed.
func exchange(peer *transport.Peer, wsConn *websocket.Conn) (*sender, <-chan error) {
	s := &sender{peer: peer, conn: wsConn}
	r := &receiver{peer: peer, conn: wsConn, sender: s}

	peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		// Best effort: the WS is closed as soon as the DataChannel opens.
		if err := s.sendCandidate(string(data)); err != nil {
			util.LogDebug("send ICE candidate: %v", err)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()
	return s, errCh
}

func waitReady(ctx context.Context, peer *transport.Peer, errCh <-chan error) (*transport.Peer, error) {
	select {
	case <-peer.Ready():
		util.LogInfo("WebRTC DataChannel established, closing WS")
		return peer, nil

	case err := <-errCh:
		peer.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		peer.Close()
		return nil, ctx.Err()
	}
}
