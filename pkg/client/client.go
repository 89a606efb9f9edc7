// Package client habla con el daemon smart-publishd por HTTP, sobre su Unix
// socket o sobre TCP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

const apiPrefix = "/api/v1"

// GetDefaultSocketPath retorna el path del socket usando XDG_RUNTIME_DIR
func GetDefaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		// Fallback: construir con UID
		return fmt.Sprintf("/tmp/smart-publish-%d.sock", os.Getuid())
	}

	return filepath.Join(runtimeDir, "smart-publish.sock")
}

// Client representa un cliente del daemon
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient crea un cliente sobre el Unix socket dado
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	// Sin Timeout: los streams duran lo que su contexto
	return &Client{baseURL: "http://unix", http: &http.Client{Transport: transport}}
}

// NewDefaultClient crea un cliente con el socket path por defecto
func NewDefaultClient() *Client {
	return NewClient(GetDefaultSocketPath())
}

// NewTCPClient crea un cliente contra una URL base, p. ej. http://127.0.0.1:5409
func NewTCPClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// APIError es una respuesta de error del daemon
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// IsNotFound indica si err es un 404 del daemon
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsConflict indica si err es un 409 del daemon
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do envía la petición y decodifica la respuesta en out. Con un error del
// daemon también decodifica out si el cuerpo lo permite.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w (is daemon running?)", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		if out != nil {
			json.Unmarshal(data, out)
		}
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Ping comprueba que el daemon responde
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil, nil)
}

// Publish encola una publicación. Un duplicado devuelve la tarea fallida
// junto con un error de conflicto.
func (c *Client) Publish(ctx context.Context, req *PublishRequest) (*Task, error) {
	var resp struct {
		Task *Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, "/publish", nil, req, &resp)
	return resp.Task, err
}

// PublishBatch encola un lote
func (c *Client) PublishBatch(ctx context.Context, req *BatchRequest) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	// Un lote que falla a mitad devuelve también las tareas ya lanzadas
	err := c.do(ctx, http.MethodPost, "/publish/batch", nil, req, &resp)
	return resp.Tasks, err
}

// GetTask obtiene el estado de una tarea
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var resp struct {
		Task *Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodGet, "/publish/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// ListTasks lista tareas recientes; state vacío lista todas
func (c *Client) ListTasks(ctx context.Context, state string, limit int) ([]Task, error) {
	query := url.Values{}
	if state != "" {
		query.Set("state", state)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/publish/tasks", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// CancelTask cancela una tarea en curso
func (c *Client) CancelTask(ctx context.Context, id string) (*Task, error) {
	var resp struct {
		Task *Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodPost, "/publish/"+url.PathEscape(id)+"/cancel", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// Stats obtiene las estadísticas del daemon
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListAccounts lista cuentas; platform vacío lista todas
func (c *Client) ListAccounts(ctx context.Context, platform string) ([]Account, error) {
	query := url.Values{}
	if platform != "" {
		query.Set("platform", platform)
	}

	var resp struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// ImportAccount importa cookies de un archivo o del navegador
func (c *Client) ImportAccount(ctx context.Context, req *ImportRequest) (*Account, error) {
	var resp struct {
		Account *Account `json:"account"`
	}
	if err := c.do(ctx, http.MethodPost, "/accounts/import", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Account, nil
}

// ValidateAccount comprueba la credencial de una cuenta
func (c *Client) ValidateAccount(ctx context.Context, id int64) (*ValidateResult, error) {
	var res ValidateResult
	if err := c.do(ctx, http.MethodPost, "/accounts/"+strconv.FormatInt(id, 10)+"/validate", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExportAccount pide al daemon escribir las cookies en path y retorna
// cuántas escribió
func (c *Client) ExportAccount(ctx context.Context, id int64, path string) (int, error) {
	var resp struct {
		Cookies int `json:"cookies"`
	}
	query := url.Values{"path": {path}}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+strconv.FormatInt(id, 10)+"/export", query, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Cookies, nil
}

// DeleteAccount elimina una cuenta y su credencial
func (c *Client) DeleteAccount(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/accounts/"+strconv.FormatInt(id, 10), nil, nil, nil)
}
