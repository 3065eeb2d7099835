package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter owns all writes on the connection. Two queues feed it:
// priority carries tool results, errors, and the close frame; normal
// carries assistant text and synthesized audio. Priority frames always go
// out ahead of whatever sits in the normal queue.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		if w.ctx != nil && w.ctx.Err() != nil {
			w.drainPriority(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = w.ws.Close()
			return nil
		}

		wrote, err := w.takePriority(writeTimeout)
		if err != nil {
			return err
		}
		if wrote {
			continue
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.send(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			if err := w.send(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// takePriority writes one queued priority frame without blocking.
func (w *outboundWriter) takePriority(writeTimeout time.Duration) (bool, error) {
	if w.priority == nil {
		return false, nil
	}
	select {
	case frame, ok := <-w.priority:
		if !ok {
			w.priority = nil
			return false, nil
		}
		return true, w.send(frame, writeTimeout)
	default:
		return false, nil
	}
}

// drainPriority flushes a bounded number of priority frames before the
// connection drops, so a fatal error or session_closed still reaches the
// client on shutdown.
func (w *outboundWriter) drainPriority(writeTimeout time.Duration) {
	if w.priority == nil {
		return
	}

	budget := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < budget {
		budget = writeTimeout
	}
	deadline := time.Now().Add(budget)

	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				return
			}
			_ = w.send(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) send(frame outboundFrame, writeTimeout time.Duration) error {
	deadline := time.Now().Add(writeTimeout)

	// Synthesized audio goes out as a JSON header immediately followed by
	// the raw PCM frame.
	if frame.binaryPair != nil {
		if err := w.write(websocket.TextMessage, frame.binaryPair.header, deadline); err != nil {
			return err
		}
		return w.write(websocket.BinaryMessage, frame.binaryPair.data, deadline)
	}
	if len(frame.textPayload) > 0 {
		return w.write(websocket.TextMessage, frame.textPayload, deadline)
	}
	if len(frame.binaryPayload) > 0 {
		return w.write(websocket.BinaryMessage, frame.binaryPayload, deadline)
	}
	return nil
}

func (w *outboundWriter) write(messageType int, data []byte, deadline time.Time) error {
	if err := w.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.ws.WriteMessage(messageType, data)
}
