package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebsocketSink streams entries as JSON text frames to a listener.
type WebsocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebsocket connects to url (ws:// or wss://).
func DialWebsocket(ctx context.Context, url string) (*WebsocketSink, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("audit: websocket url is required")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: dial %s: %w", url, err)
	}
	return &WebsocketSink{conn: conn}, nil
}

func (s *WebsocketSink) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("audit: set deadline: %w", err)
	}
	if err := s.conn.WriteJSON(Stamp(e)); err != nil {
		return fmt.Errorf("audit: write frame: %w", err)
	}
	return nil
}

func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
