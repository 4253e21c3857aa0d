package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client speaks to the session manager daemon: control calls over HTTP,
// session events over a websocket feed.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) SendText(ctx context.Context, sessionID, text string) error {
	return c.post(ctx, fmt.Sprintf("/v1/sessions/%s/input", url.PathEscape(sessionID)), map[string]string{"text": text})
}

func (c *Client) SendKeys(ctx context.Context, sessionID string, keys []string) error {
	return c.post(ctx, fmt.Sprintf("/v1/sessions/%s/keys", url.PathEscape(sessionID)), map[string]any{"keys": keys})
}

func (c *Client) Stop(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/sessions/%s/stop", url.PathEscape(sessionID)), nil)
}

func (c *Client) Output(ctx context.Context, sessionID string, lines int) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/sessions/%s/output?lines=%s",
		c.baseURL, url.PathEscape(sessionID), strconv.Itoa(lines))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("get output: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("session manager status %d: %s", res.StatusCode, string(body))
	}
	var out struct {
		Output string `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode output: %w", err)
	}
	return out.Output, nil
}

// RunEventFeed connects to the manager's websocket event feed and dispatches
// each frame to handler, redialing with backoff until ctx is cancelled.
// Events for one connection are dispatched strictly in arrival order.
func (c *Client) RunEventFeed(ctx context.Context, handler EventHandler) {
	wsURL := toWebsocketURL(c.baseURL) + "/v1/sessions/events"
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			log.Printf("agents: event feed dial failed: %v (retry in %s)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		c.readEvents(ctx, conn, handler)
		_ = conn.Close()
	}
}

func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn, handler EventHandler) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var evt SessionEvent
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() == nil {
				log.Printf("agents: event feed read failed: %v", err)
			}
			return
		}
		if strings.TrimSpace(evt.SessionID) == "" || strings.TrimSpace(evt.Event) == "" {
			continue
		}
		handler(evt)
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("session manager status %d: %s", res.StatusCode, string(msg))
	}
	return nil
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
