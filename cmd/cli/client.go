package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/osa030/cuelist/internal/api/httpapi"
	"github.com/osa030/cuelist/internal/app/jukebox"
	"github.com/osa030/cuelist/internal/app/notification"
)

// client talks to the cuelist HTTP API.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{base: strings.TrimRight(base, "/"), token: token, http: http.DefaultClient}
}

func (c *client) entries(ctx context.Context) ([]jukebox.EntryView, error) {
	var out []jukebox.EntryView
	return out, c.do(ctx, http.MethodGet, "/api/entries", nil, &out)
}

func (c *client) playback(ctx context.Context) (jukebox.PlaybackView, error) {
	var out jukebox.PlaybackView
	return out, c.do(ctx, http.MethodGet, "/api/playback", nil, &out)
}

func (c *client) searchResults(ctx context.Context) (jukebox.SearchView, error) {
	var out jukebox.SearchView
	return out, c.do(ctx, http.MethodGet, "/api/search/results", nil, &out)
}

// add sends ref as a path when it looks like a URL or URI.
func (c *client) add(ctx context.Context, ref string) error {
	body := map[string]string{"id": ref}
	if strings.Contains(ref, "/") || strings.Contains(ref, ":") {
		body = map[string]string{"path": ref}
	}
	return c.do(ctx, http.MethodPost, "/api/entries", body, nil)
}

func (c *client) remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/entries/"+url.PathEscape(id), nil, nil)
}

// entryCommand posts one of play, pause, up, down, expand or collapse.
func (c *client) entryCommand(ctx context.Context, id, action string) error {
	return c.do(ctx, http.MethodPost, "/api/entries/"+url.PathEscape(id)+"/"+action, nil, nil)
}

func (c *client) stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", nil, nil)
}

func (c *client) search(ctx context.Context, query string) error {
	return c.do(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(query), nil, nil)
}

// subscribe calls fn for every notification until ctx ends or the server
// closes the stream.
func (c *client) subscribe(ctx context.Context, fn func(notification.Event)) error {
	u, err := url.Parse(c.base + "/api/ws")
	if err != nil {
		return errors.Wrap(err, "invalid server address")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var e notification.Event
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "failed to read notification")
		}
		fn(e)
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(httpapi.AdminTokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return errors.Newf("%s %s: %s", method, path, e.Error)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "failed to decode response")
}
