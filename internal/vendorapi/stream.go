package vendorapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// frameBuffer is how many frames may queue between the read loop and the
// consumer before the read loop blocks.
const frameBuffer = 64

// closeWriteTimeout bounds the close frame write during Close.
const closeWriteTimeout = time.Second

// Stream is one open notification connection.
//
// Frames are delivered in arrival order on a single channel which is
// closed when the connection ends. Err reports why it ended.
type Stream interface {
	Frames() <-chan []byte
	Err() error
	Close() error
}

type wsStream struct {
	conn   *websocket.Conn
	frames chan []byte

	pingInterval time.Duration
	pongWait     time.Duration

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	done      chan struct{}
}

// OpenStream connects to the websocket notification channel with the
// bearer header. The stream is closed when ctx is cancelled.
//
// Frames larger than MaxBodyBytes end the stream. The connection is
// pinged every PingInterval; a peer silent for PingInterval+PongTimeout
// ends the stream with ErrTimeout.
//
// Returns:
//   - Stream: Open stream; frames start flowing immediately
//   - error: ErrAuth if the handshake is refused, ErrTimeout or ErrNetwork otherwise
func (c *Client) OpenStream(ctx context.Context) (Stream, error) {
	if c.streamURL == "" {
		return nil, fmt.Errorf("vendorapi: stream url is not configured")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: handshake status %d", ErrAuth, resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: handshake status %d: %w", ErrNetwork, resp.StatusCode, err)
		}
		return nil, classifyTransportError(err)
	}

	conn.SetReadLimit(int64(c.maxBody))

	s := &wsStream{
		conn:         conn,
		frames:       make(chan []byte, frameBuffer),
		pingInterval: c.pingInterval,
		pongWait:     c.pongWait,
		done:         make(chan struct{}),
	}
	s.extendDeadline()
	conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})
	go s.readLoop()
	go s.pingLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.fail(ctx.Err())
			s.Close() //nolint:errcheck // Close error is irrelevant on cancellation
		case <-s.done:
		}
	}()

	c.logDebug("notification stream opened", "url", c.streamURL)
	return s, nil
}

func (s *wsStream) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(classifyTransportError(err))
			s.Close() //nolint:errcheck // already failing
			return
		}
		s.extendDeadline()
		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}

// pingLoop keeps the connection's read deadline moving while the peer
// answers pings.
func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pongWait)); err != nil {
				s.fail(classifyTransportError(err))
				s.Close() //nolint:errcheck // already failing
				return
			}
		}
	}
}

func (s *wsStream) extendDeadline() {
	//nolint:errcheck // a failed deadline surfaces as a read error
	s.conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
}

// fail records the first terminal error.
func (s *wsStream) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *wsStream) Frames() <-chan []byte {
	return s.frames
}

func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.fail(ErrStreamClosed)
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best effort goodbye
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteTimeout))
		err = s.conn.Close()
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
