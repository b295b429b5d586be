package timing

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	domain "github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/service/events"
)

// sseHeartbeat is the interval of keep-alive events.
const sseHeartbeat = 15 * time.Second

// streamEvents pushes presses, mapping changes and run changes to the client
// until it disconnects.
func (h *Handler) streamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	stream, cancel := h.opts.Events.Subscribe()
	defer cancel()

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(sseHeartbeat)

	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case ev, ok := <-stream:
			if !ok {
				return
			}

			writeSSE(c.Writer, ev.Type, h.eventPayload(ev))
			c.Writer.Flush()
		}
	}
}

// eventPayload converts domain values carried by ev to their wire form.
func (h *Handler) eventPayload(ev events.Event) any {
	switch data := ev.Data.(type) {
	case *domain.Press:
		return toPressDTO(data)
	case string:
		return map[string]*string{"run": optionalString(data)}
	default:
		if ev.Type == events.TypeMapping {
			return map[string]bool{"changed": true}
		}

		return data
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
