// Package client is a thin websocket and REST client for the presence server.
// It is used by the probe command and the end to end suite.
package client

import (
	"bytes"
	"chat-presence/domain"
	"chat-presence/infrastructure/websocket"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
)

const frameBuffer = 256

// Client holds one websocket connection and reads its frames in the background.
type Client struct {
	addr   string
	token  string
	conn   *gws.Conn
	frames chan websocket.Frame
	seq    atomic.Int64

	writeMu sync.Mutex
	errMu   sync.Mutex
	readErr error
}

// Dial opens ws://addr/ws authenticated with token.
func Dial(ctx context.Context, addr, token string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	conn, resp, err := gws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", addr, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Client{addr: addr, token: token, conn: conn, frames: make(chan websocket.Frame, frameBuffer)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		var f websocket.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		c.frames <- f
	}
}

// Send writes one frame and returns the request id it was tagged with.
func (c *Client) Send(frameType string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	requestID := strconv.FormatInt(c.seq.Add(1), 10)
	data, err := json.Marshal(websocket.Frame{Type: frameType, RequestID: requestID, Payload: raw})
	if err != nil {
		return "", err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return requestID, c.conn.WriteMessage(gws.TextMessage, data)
}

// Next returns the next frame received, in order.
func (c *Client) Next(ctx context.Context) (websocket.Frame, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return websocket.Frame{}, c.err()
		}
		return f, nil
	case <-ctx.Done():
		return websocket.Frame{}, ctx.Err()
	}
}

// Await skips frames until one matches. Skipped frames are lost.
func (c *Client) Await(ctx context.Context, match func(websocket.Frame) bool) (websocket.Frame, error) {
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return websocket.Frame{}, err
		}
		if match(f) {
			return f, nil
		}
	}
}

// Request sends a frame and waits for the ack or error frame answering it.
func (c *Client) Request(ctx context.Context, frameType string, payload any) (websocket.Frame, error) {
	requestID, err := c.Send(frameType, payload)
	if err != nil {
		return websocket.Frame{}, err
	}
	return c.Await(ctx, func(f websocket.Frame) bool { return f.RequestID == requestID })
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return fmt.Errorf("connection closed")
	}
	return c.readErr
}

// SaveChat creates or replaces a chat through the REST API.
func SaveChat(ctx context.Context, addr, token string, chat domain.Chat) error {
	body, err := json.Marshal(map[string]any{
		"name":    chat.Name,
		"isGroup": chat.IsGroup,
		"members": chat.Members,
	})
	if err != nil {
		return err
	}
	u := url.URL{Scheme: "http", Host: addr, Path: "/api/chats/" + url.PathEscape(string(chat.ID))}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("save chat %s: status %d", chat.ID, resp.StatusCode)
	}
	return nil
}
