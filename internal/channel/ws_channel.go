package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsFrame is the wire shape pushed to a connected client. Edits carry
// the id of the frame they replace.
type wsFrame struct {
	Type    string   `json:"type"` // "message" | "edit"
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Mode    Mode     `json:"mode"`
	Actions []Action `json:"actions,omitempty"`
}

// WSChannel delivers onto one WebSocket connection. Writes are
// serialized with a mutex because gorilla connections allow a single
// concurrent writer.
type WSChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex

	writeTimeout time.Duration
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn, writeTimeout: 10 * time.Second}
}

func (w *WSChannel) writeFrame(ctx context.Context, f wsFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *WSChannel) Send(ctx context.Context, text string, opts SendOptions) (*MessageRef, error) {
	id := uuid.NewString()
	if err := w.writeFrame(ctx, wsFrame{
		Type:    "message",
		ID:      id,
		Text:    text,
		Mode:    opts.Mode,
		Actions: opts.Actions,
	}); err != nil {
		return nil, err
	}
	return &MessageRef{ID: id}, nil
}

func (w *WSChannel) Edit(ctx context.Context, ref *MessageRef, text string, opts SendOptions) (*MessageRef, error) {
	if ref == nil {
		return w.Send(ctx, text, opts)
	}
	if err := w.writeFrame(ctx, wsFrame{
		Type:    "edit",
		ID:      ref.ID,
		Text:    text,
		Mode:    opts.Mode,
		Actions: opts.Actions,
	}); err != nil {
		return nil, err
	}
	return ref, nil
}
