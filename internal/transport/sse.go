package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nightloom/chatcore/internal/chat"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/llm"
)

// sseSink adapts chat.Sink onto a gin ResponseWriter, per spec.md §4.6's
// SSE event stream. Frames are queued through a bounded, drop-oldest
// channel (spec.md §5's congestion policy) so a slow client can never
// block the orchestrator's tight token loop.
type sseSink struct {
	frames chan sseFrame
	done   chan struct{}
}

func newSSESink() *sseSink {
	return &sseSink{
		frames: make(chan sseFrame, config.SubscriptionBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *sseSink) enqueue(f sseFrame) {
	select {
	case s.frames <- f:
		return
	default:
	}
	// Buffer full: drop the oldest queued frame to make room, per
	// spec.md §5's "drop-oldest policy after 1024 frames".
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
}

func (s *sseSink) EmitToken(messageID, token string) {
	s.enqueue(sseFrame{Type: "token", Content: token, MessageID: messageID})
}

func (s *sseSink) EmitDone(messageID string, usage llm.Usage, responseTimeMs int64, fallback bool) {
	s.enqueue(sseFrame{Type: "done", MessageID: messageID, Usage: usage, ResponseTime: responseTimeMs})
	close(s.done)
}

func (s *sseSink) EmitError(message string, retryable bool, messageID string) {
	s.enqueue(sseFrame{Type: "error", Message: message, Retryable: retryable, MessageID: messageID})
	close(s.done)
}

var _ chat.Sink = (*sseSink)(nil)

// handleMessage implements POST /chat/message: spec.md §6's streaming
// binding. ADMIT runs synchronously first so a rejection (quota/rate
// limit/safety block/not-found) is reported as an ordinary JSON error
// response with the right status, headers, and flags (spec.md §8
// scenarios 2 and 4) before any SSE header is ever written; only an
// admitted turn commits to the event stream, driving the orchestrator on
// a background goroutine and piping sink frames to the client as they
// arrive, exactly the shape zulandar-railyard's handleSSE
// polls-and-writes loop uses, adapted from a poll ticker to a push
// channel since our source of events is the orchestrator itself, not a
// database poll.
func (s *Server) handleMessage(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", err.Error())
		return
	}

	at, coreErr, err := s.orchestrator.Admit(c.Request.Context(), principal, req.SessionID, req.Message,
		chat.Options{ProviderOverride: req.Provider})
	if err != nil {
		respondError(c, err)
		return
	}
	if coreErr != nil {
		respondCoreError(c, coreErr)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Access-Control-Allow-Origin", "*")

	sink := newSSESink()
	go func() {
		_, err := s.orchestrator.Run(at, sink)
		if err != nil {
			sink.enqueue(sseFrame{Type: "error", Message: err.Error(), Retryable: true})
			close(sink.done)
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-sink.frames:
			writeSSEFrame(c.Writer, f)
			c.Writer.Flush()
			if f.Type == "done" || f.Type == "error" {
				return
			}
		case <-sink.done:
			// Terminal event already enqueued; drain remaining frames
			// (token frames that raced the done/error close) then stop.
			for {
				select {
				case f := <-sink.frames:
					writeSSEFrame(c.Writer, f)
					c.Writer.Flush()
					if f.Type == "done" || f.Type == "error" {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, f sseFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
