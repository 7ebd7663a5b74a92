// Package websocket streams live session output to frontends and feeds
// their keystrokes back into the multiplexer.
package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/session"
)

// SessionIO is the supervisor surface the terminal stream needs.
// *session.Supervisor satisfies it.
type SessionIO interface {
	Exists(ctx context.Context, name string) bool
	Peek(ctx context.Context, name string, lines int) (string, error)
	SendInput(ctx context.Context, name, payload string, mode session.InputMode) error
	Resize(ctx context.Context, name string, cols, rows int) error
}

// TerminalOutput is one server-to-client frame.
type TerminalOutput struct {
	Session string `json:"session"`
	Chunk   string `json:"chunk"`
	Seq     int64  `json:"seq"`
}

// clientFrame is one client-to-server frame.
type clientFrame struct {
	Kind string `json:"kind"` // input, key or resize
	Data string `json:"data,omitempty"`
	Mode string `json:"mode,omitempty"`
	Key  string `json:"key,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// TerminalHandler upgrades terminal connections and pumps frames both
// ways.
type TerminalHandler struct {
	sessions     SessionIO
	log          *logger.Logger
	pollInterval time.Duration
	peekLines    int
}

func NewTerminalHandler(sessions SessionIO, log *logger.Logger) *TerminalHandler {
	if log == nil {
		log = logger.Default()
	}
	return &TerminalHandler{
		sessions:     sessions,
		log:          log.WithFields(zap.String("component", "terminal-ws")),
		pollInterval: 500 * time.Millisecond,
		peekLines:    200,
	}
}

// terminalUpgrader uses larger buffers for better TUI performance.
var terminalUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkWebSocketOrigin,
}

// checkWebSocketOrigin validates the Origin header to prevent
// cross-site WebSocket hijacking.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header: could be a non-browser client.
		return true
	}
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	requestHost := host
	if colonIdx := strings.LastIndex(requestHost, ":"); colonIdx != -1 {
		if !strings.Contains(requestHost, "]") || colonIdx > strings.Index(requestHost, "]") {
			requestHost = requestHost[:colonIdx]
		}
	}
	return originURL.Hostname() == requestHost
}

// Handle upgrades the connection for /api/ws/terminal/:session and
// pumps frames until either side goes away.
func (h *TerminalHandler) Handle(c *gin.Context) {
	name := c.Param("session")
	ctx := c.Request.Context()
	if !h.sessions.Exists(ctx, name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	conn, err := terminalUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.streamOutput(streamCtx, conn, &writeMu, name)
	}()

	h.readClient(streamCtx, conn, name)
	cancel()
	wg.Wait()
}

// streamOutput polls the pane and pushes a frame whenever the capture
// changes. The whole visible pane ships in each chunk so the client
// never needs to reconcile partial diffs.
func (h *TerminalHandler) streamOutput(ctx context.Context, conn *gorillaws.Conn, writeMu *sync.Mutex, name string) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last string
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := h.sessions.Peek(ctx, name, h.peekLines)
			if err != nil {
				// The session is gone; tell the client and stop.
				writeMu.Lock()
				_ = conn.WriteControl(gorillaws.CloseMessage,
					gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, "session ended"),
					time.Now().Add(time.Second))
				writeMu.Unlock()
				return
			}
			if out == last {
				continue
			}
			last = out
			seq++
			writeMu.Lock()
			err = conn.WriteJSON(TerminalOutput{Session: name, Chunk: out, Seq: seq})
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readClient consumes input, key and resize frames until the socket
// closes.
func (h *TerminalHandler) readClient(ctx context.Context, conn *gorillaws.Conn, name string) {
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if err := h.applyFrame(ctx, name, frame); err != nil {
			h.log.Warn("client frame rejected",
				zap.String("session", name),
				zap.String("kind", frame.Kind),
				zap.Error(err),
			)
		}
	}
}

func (h *TerminalHandler) applyFrame(ctx context.Context, name string, frame clientFrame) error {
	switch frame.Kind {
	case "input":
		mode := session.InputMode(frame.Mode)
		if mode == "" {
			mode = session.ModeRaw
		}
		return h.sessions.SendInput(ctx, name, frame.Data, mode)
	case "key":
		return h.sessions.SendInput(ctx, name, frame.Key, session.ModeKey)
	case "resize":
		return h.sessions.Resize(ctx, name, frame.Cols, frame.Rows)
	default:
		h.log.Debug("ignoring unknown frame kind", zap.String("kind", frame.Kind))
		return nil
	}
}
