package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nightloom/chatcore/internal/chat"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is the union of every frame shape spec.md §4.6 defines for the
// bidirectional binding, both client-to-server and server-to-client.
type wsFrame struct {
	Type             string `json:"type"`
	Token            string `json:"token,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	Message          string `json:"message,omitempty"`
	ProviderOverride string `json:"providerOverride,omitempty"`
	Content          string `json:"content,omitempty"`
	MessageID        string `json:"messageId,omitempty"`
	Usage            interface{} `json:"usage,omitempty"`
	ResponseTime     int64  `json:"responseTime,omitempty"`
	Retryable        bool   `json:"retryable,omitempty"`
}

// wsSink adapts chat.Sink onto a single websocket connection, guarded
// by writeMu since gorilla/websocket forbids concurrent writers.
type wsSink struct {
	conn      *websocket.Conn
	writeMu   *sync.Mutex
	sessionID string
	frames    chan wsFrame
}

func (s *wsSink) enqueue(f wsFrame) {
	f.SessionID = s.sessionID
	select {
	case s.frames <- f:
		return
	default:
	}
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
}

func (s *wsSink) EmitToken(messageID, token string) {
	s.enqueue(wsFrame{Type: "token", Content: token, MessageID: messageID})
}

func (s *wsSink) EmitDone(messageID string, usage llm.Usage, responseTimeMs int64, fallback bool) {
	s.enqueue(wsFrame{Type: "done", MessageID: messageID, Usage: usage, ResponseTime: responseTimeMs})
}

func (s *wsSink) EmitError(message string, retryable bool, messageID string) {
	s.enqueue(wsFrame{Type: "error", Message: message, Retryable: retryable, MessageID: messageID})
}

var _ chat.Sink = (*wsSink)(nil)

func (s *wsSink) writeLoop(conn *websocket.Conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case f := <-s.frames:
			s.writeMu.Lock()
			_ = conn.WriteJSON(f)
			s.writeMu.Unlock()
		}
	}
}

// handleWebSocket implements the /ws/chat bidirectional framed binding
// of spec.md §4.6: an auth handshake, then any number of chat/ping
// frames multiplexed over one connection.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	writeMu := &sync.Mutex{}
	writeFrame := func(f wsFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(f)
	}

	var authFrame struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&authFrame); err != nil {
		return
	}
	if authFrame.Type != "auth" {
		writeFrame(wsFrame{Type: "error", Message: "Invalid message type or not authenticated"})
		return
	}
	principal, err := parsePrincipal(authFrame.Token, s.cfg.AuthSecret)
	if err != nil {
		writeFrame(wsFrame{Type: "auth_error", Message: "invalid token"})
		return
	}
	writeFrame(wsFrame{Type: "auth_success"})

	done := make(chan struct{})
	defer close(done)

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "ping":
			writeFrame(wsFrame{Type: "pong"})
		case "chat":
			sink := &wsSink{conn: conn, writeMu: writeMu, sessionID: frame.SessionID, frames: make(chan wsFrame, config.SubscriptionBufferSize)}
			turnDone := make(chan struct{})
			go func() {
				sink.writeLoop(conn, turnDone)
			}()
			go func(f wsFrame) {
				defer close(turnDone)
				_, err := s.orchestrator.HandleTurn(c.Request.Context(), principal, f.SessionID, f.Message,
					chat.Options{ProviderOverride: f.ProviderOverride}, sink)
				if err != nil {
					sink.enqueue(wsFrame{Type: "error", Message: err.Error(), Retryable: true})
				}
				// give the write loop a beat to flush the terminal frame
				time.Sleep(10 * time.Millisecond)
			}(frame)
		default:
			writeFrame(wsFrame{Type: "error", Message: "Invalid message type or not authenticated"})
		}
	}
}
