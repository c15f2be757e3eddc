package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SocketOptions bound every WebSocket connection.
type SocketOptions struct {
	ReadLimit  int64         // max inbound message size, 0 = gorilla default
	PongWait   time.Duration // peer must answer pings within this window
	PingPeriod time.Duration // must be below PongWait
}

// DefaultSocketOptions returns the limits used by the server.
func DefaultSocketOptions(readLimit int64) SocketOptions {
	return SocketOptions{
		ReadLimit:  readLimit,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
	}
}

// keepAlive applies the read limit and starts pinging the peer. The returned
// func stops the ping loop.
func keepAlive(conn *websocket.Conn, opts SocketOptions) func() {
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.PongWait <= 0 || opts.PingPeriod <= 0 {
		return func() {}
	}

	conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(opts.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// WriteControl is safe alongside the registry's writer.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
