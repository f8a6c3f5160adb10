package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// WatchWS streams events from the API websocket until ctx ends or the
// server hangs up.
func WatchWS(ctx context.Context, wsURL, token string, fn func(TitlesEvent)) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		dispatch(msg, fn)
	}
}

// WatchTCP does the same over the raw TCP feed.
func WatchTCP(ctx context.Context, addr, token string, fn func(TitlesEvent)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	hello, _ := json.Marshal(SubscribeMessage{Type: "subscribe", Token: token})
	if _, err := conn.Write(append(hello, '\n')); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var head struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(sc.Bytes(), &head); err == nil && head.Type == "error" {
			return errors.New(head.Message)
		}
		dispatch(sc.Bytes(), fn)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return net.ErrClosed
}

func dispatch(line []byte, fn func(TitlesEvent)) {
	var e TitlesEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return
	}
	switch e.Type {
	case TitlesSyncedType, TitleUpdatedType, TitleDeletedType, AccountDeleteType:
		fn(e)
	}
}

// WebsocketURL turns the API base URL into the ws(s) URL of path.
func WebsocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   path,
	}).String(), nil
}
