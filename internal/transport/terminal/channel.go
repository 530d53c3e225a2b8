// Package terminal is the interactive command-shell channel: lines typed
// by the user go out as text frames and the host's responses arrive
// asynchronously.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/events"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/monitoring"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("terminal channel closed")

const writeWait = 10 * time.Second

// Options configures a Channel.
type Options struct {
	Token   string
	Buffer  int
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Events  *events.Broadcaster
}

// Channel is one open shell session.
type Channel struct {
	conn    *websocket.Conn
	lines   chan string
	done    chan struct{}
	logger  *logging.Logger
	metrics *monitoring.Metrics
	events  *events.Broadcaster

	writeMu   sync.Mutex
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial opens the channel at url.
func Dial(ctx context.Context, url string, opts Options) (*Channel, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial terminal: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial terminal: %w", err)
	}

	ch := &Channel{
		conn:    conn,
		lines:   make(chan string, opts.Buffer),
		done:    make(chan struct{}),
		logger:  logging.OrNop(opts.Logger).Named("terminal"),
		metrics: opts.Metrics,
		events:  opts.Events,
	}
	go ch.readLoop()

	ch.logger.Info("terminal connected", zap.String("url", url))
	return ch, nil
}

// Lines delivers pushed lines. It is closed when the connection ends.
func (c *Channel) Lines() <-chan string {
	return c.lines
}

// Send writes one line as typed by the user.
func (c *Channel) Send(line string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("send line: %w", err)
	}
	c.metrics.RecordTerminalLine("out")
	return nil
}

// Close ends the session. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Err returns the error that ended the read loop, if any. Normal
// closure reports nil.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) readLoop() {
	defer close(c.lines)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(err)
					c.logger.Warn("terminal read failed", zap.Error(err))
				}
			}
			return
		}

		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			c.metrics.RecordTerminalLine("in")
			c.events.Publish(events.Event{Kind: events.TerminalLine, Detail: line})
			select {
			case c.lines <- line:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Channel) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.err = err
}
