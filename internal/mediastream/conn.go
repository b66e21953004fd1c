package mediastream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single outbound write.
const writeTimeout = 5 * time.Second

// ErrNoStream is returned by Send* before the start event has been read.
var ErrNoStream = errors.New("mediastream: stream not started")

// Conn is one media-stream WebSocket. ReadEvent must be called from a single
// goroutine; the Send methods and Close are safe for concurrent use.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	mu        sync.Mutex
	streamSID string
	closed    bool
}

// NewConn wraps an accepted WebSocket.
func NewConn(ws *websocket.Conn) *Conn {
	// Media frames are small, but start events with inline agent
	// configuration can exceed the default 32 KiB read limit.
	ws.SetReadLimit(1 << 20)
	return &Conn{ws: ws}
}

// StreamSID returns the stream identifier learned from the start event.
func (c *Conn) StreamSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSID
}

// ReadEvent blocks until the next event arrives. Undecodable messages are
// returned with an error wrapping [ErrProtocol]; the connection stays usable.
func (c *Conn) ReadEvent(ctx context.Context) (Event, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("mediastream: read: %w", err)
	}
	if typ != websocket.MessageText {
		return Event{}, fmt.Errorf("%w: unexpected binary message", ErrProtocol)
	}
	ev, err := Decode(data)
	if err != nil {
		return Event{}, err
	}
	if ev.Type == EventStart {
		c.mu.Lock()
		c.streamSID = ev.StreamSID
		c.mu.Unlock()
	}
	return ev, nil
}

// SendMedia queues μ-law audio for playback.
func (c *Conn) SendMedia(ctx context.Context, ulaw []byte) error {
	sid, err := c.sid()
	if err != nil {
		return err
	}
	data, err := encodeMedia(sid, ulaw)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// SendMark asks the far end to echo name once all queued audio has played.
func (c *Conn) SendMark(ctx context.Context, name string) error {
	sid, err := c.sid()
	if err != nil {
		return err
	}
	data, err := encodeMark(sid, name)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// SendClear discards all audio queued at the far end.
func (c *Conn) SendClear(ctx context.Context) error {
	sid, err := c.sid()
	if err != nil {
		return err
	}
	data, err := encodeClear(sid)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// Close ends the stream with a normal closure. It is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close(websocket.StatusNormalClosure, "call ended")
}

func (c *Conn) sid() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamSID == "" {
		return "", ErrNoStream
	}
	return c.streamSID, nil
}

func (c *Conn) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("mediastream: write: %w", err)
	}
	return nil
}

// Handler upgrades requests to media-stream WebSockets and runs serve for
// each. The connection is closed when serve returns.
func Handler(serve func(ctx context.Context, c *Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("mediastream: upgrade failed", "err", err, "remote", r.RemoteAddr)
			return
		}
		c := NewConn(ws)
		defer c.Close()
		serve(r.Context(), c)
	})
}
