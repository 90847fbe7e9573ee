package channel

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is the part of a websocket connection the manager uses. *websocket.Conn implements it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket. A nil Dialer uses websocket.DefaultDialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// WebsocketUrl derives the websocket endpoint from the server's http(s) base url.
func WebsocketUrl(serverUrl string) (string, error) {
	u, err := url.Parse(serverUrl)
	if err != nil {
		return "", errors.Wrapf(err, "invalid server url %q", serverUrl)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.JoinPath("ws").String(), nil
}

func withIdentity(wsUrl string, userId int64) (string, error) {
	u, err := url.Parse(wsUrl)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("user_id", strconv.FormatInt(userId, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deliberateClose reports whether the server ended this session on purpose, in which case the manager does not
// reconnect. A server shutdown closes with "going away" and is retried.
func deliberateClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation)
}
