package conn

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// WebsocketDialer dials the relay's /ws endpoint.
type WebsocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: d.HTTPClient, HTTPHeader: d.Header})
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	c.SetReadLimit(limit)
	return wsTransport{c: c}, nil
}

type wsTransport struct{ c *websocket.Conn }

func (t wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.c.Read(ctx)
	return data, err
}

func (t wsTransport) Write(ctx context.Context, data []byte) error {
	return t.c.Write(ctx, websocket.MessageText, data)
}

func (t wsTransport) Close() error {
	return t.c.Close(websocket.StatusNormalClosure, "")
}
