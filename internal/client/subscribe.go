package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

// Subscribe opens the event stream and calls handle for every event until
// ctx is done or the server closes the connection. Events carrying malformed
// messages are dropped.
func (c *Client) Subscribe(ctx context.Context, handle func(models.Event)) error {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/ws"
	if c.token != "" {
		u.RawQuery = url.Values{"token": []string{c.token}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return statusError(http.MethodGet, "/api/ws", resp)
		}
		return fmt.Errorf("%w: dial websocket: %v", store.ErrUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: read websocket: %v", store.ErrUnavailable, err)
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn("Dropping malformed event: %v", err)
			continue
		}
		if ev.Message != nil {
			if err := store.ValidateMessage(ev.Message); err != nil {
				log.Warn("Dropping %s event: %v", ev.Type, err)
				continue
			}
		}
		handle(ev)
	}
}
