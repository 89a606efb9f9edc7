package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Login abre un login QR y llama a fn por cada evento hasta el terminal,
// que también retorna
func (c *Client) Login(ctx context.Context, platform, label string, fn func(LoginEvent)) (*LoginEvent, error) {
	query := url.Values{"platform": {platform}, "account": {label}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/login", query), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w (is daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return nil, &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes) // los QR en base64 son grandes

	var name, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			ev := LoginEvent{}
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return nil, fmt.Errorf("decode %s event: %w", name, err)
			}
			ev.Type = name
			if fn != nil {
				fn(ev)
			}
			if ev.Terminal() {
				return &ev, nil
			}
			name, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read login stream: %w", err)
	}
	return nil, errors.New("login stream ended without a result")
}

// Watch recibe eventos de estado por WebSocket hasta que fn retorna false,
// se cancela ctx o el daemon cierra la conexión. Sin topics recibe todos.
func (c *Client) Watch(ctx context.Context, topics []string, fn func(Event) bool) error {
	conn, err := c.dialEvents(ctx, topics)
	if err != nil {
		return err
	}
	return readEvents(ctx, conn, fn)
}

// WaitTask sigue una tarea hasta su estado terminal
func (c *Client) WaitTask(ctx context.Context, id string, fn func(TaskEventData)) (*Task, error) {
	// Conectar antes de consultar: ningún cambio queda entre medias
	conn, err := c.dialEvents(ctx, []string{"task:" + id})
	if err != nil {
		return nil, err
	}
	defer conn.CloseNow()

	task, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return task, nil
	}

	err = readEvents(ctx, conn, func(ev Event) bool {
		if data, err := ev.TaskEvent(); err == nil && fn != nil {
			fn(*data)
		}
		return !ev.Terminal
	})
	if err != nil {
		return nil, err
	}
	return c.GetTask(ctx, id)
}

// maxEventBytes acota un evento; un challenge lleva el QR como data URI
const maxEventBytes = 4 * 1024 * 1024

func (c *Client) dialEvents(ctx context.Context, topics []string) (*websocket.Conn, error) {
	query := url.Values{}
	for _, t := range topics {
		query.Add("topic", t)
	}
	u := "ws" + strings.TrimPrefix(c.endpoint("/events", query), "http")

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	conn.SetReadLimit(maxEventBytes)
	return conn, nil
}

func readEvents(ctx context.Context, conn *websocket.Conn, fn func(Event) bool) error {
	defer conn.CloseNow()

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if !fn(ev) {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}
}
