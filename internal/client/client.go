package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lazypower/marksweep/internal/engine"
	"github.com/lazypower/marksweep/internal/gc"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 10 * time.Second
)

// Client talks to a marksweep server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty URL falls back to
// MARKSWEEP_URL, then http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("MARKSWEEP_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// URL returns the server the client talks to.
func (c *Client) URL() string {
	return c.serverURL
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// do sends a request with an optional JSON body and returns the response body.
func (c *Client) do(method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.serverURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: string(data)}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		return data, apiErr
	}
	return data, nil
}

// Post sends a POST request with a JSON body. Returns response body.
func (c *Client) Post(path string, body any) ([]byte, error) {
	return c.do(http.MethodPost, path, body)
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(path string) ([]byte, error) {
	return c.do(http.MethodGet, path, nil)
}

// Delete sends a DELETE request. Returns response body.
func (c *Client) Delete(path string) ([]byte, error) {
	return c.do(http.MethodDelete, path, nil)
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// NewSession creates a heap session on the server. Zero sizes take the
// server's defaults.
func (c *Client) NewSession(label string, cfg gc.Config) (*engine.SessionInfo, error) {
	data, err := c.Post("/api/sessions", map[string]any{
		"label":             label,
		"stack_capacity":    cfg.StackCapacity,
		"initial_threshold": cfg.InitialThreshold,
		"max_objects":       cfg.MaxObjects,
	})
	if err != nil {
		return nil, err
	}
	var info engine.SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &info, nil
}

// ExecResult is the outcome of running a script in a session.
type ExecResult struct {
	Output   string   `json:"output"`
	Executed int      `json:"executed"`
	Stats    gc.Stats `json:"stats"`
	Error    string   `json:"error,omitempty"`
}

// Exec runs script in session id. When the script fails part way, the
// partial result is returned along with the error.
func (c *Client) Exec(id, script string) (*ExecResult, error) {
	data, err := c.Post("/api/sessions/"+id+"/exec", map[string]string{"script": script})
	var res ExecResult
	if jerr := json.Unmarshal(data, &res); jerr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("decode exec result: %w", jerr)
	}
	return &res, err
}

// SessionState is a session snapshot with its rendered roots.
type SessionState struct {
	Session engine.SessionInfo `json:"session"`
	Roots   []string           `json:"roots"`
}

// Session fetches the state of session id.
func (c *Client) Session(id string) (*SessionState, error) {
	data, err := c.Get("/api/sessions/" + id)
	if err != nil {
		return nil, err
	}
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &st, nil
}

// Drop tears down session id and returns its final cycle.
func (c *Client) Drop(id string) (*gc.CycleStats, error) {
	data, err := c.Delete("/api/sessions/" + id)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Cycle gc.CycleStats `json:"cycle"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode drop: %w", err)
	}
	return &resp.Cycle, nil
}
