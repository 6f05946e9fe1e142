// Package flowsma is a client for the Flowsma workspace API: login,
// workflow record listing and record insertion. The package also owns
// session lifetime tracking and duplicate resolution on top of the raw
// endpoints.
package flowsma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/pkg/logger"
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestError is a non-2xx response from the workspace API. It
// carries the status so callers can classify the failure.
type RequestError struct {
	Operation string
	Status    int
	Body      string
}

func (e *RequestError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.Status, body)
}

// HTTPStatus returns the response status code.
func (e *RequestError) HTTPStatus() int { return e.Status }

// AuthError is a rejected login. Unlike a transient RequestError it is
// fatal to the run: retrying the same credentials cannot succeed.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected with status %d: %s", e.Status, e.Body)
}

// HTTPStatus returns the response status code.
func (e *AuthError) HTTPStatus() int { return e.Status }

// Client calls the Flowsma workspace API.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates a Client from API configuration.
func NewClient(cfg config.APIConfig) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

// SetHTTPClient replaces the underlying HTTP client, primarily for
// testing.
func (c *Client) SetHTTPClient(client HTTPDoer) {
	c.httpClient = client
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.doRequest(ctx, "login", "/login", "", LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("login succeeded but response carried no token")
	}
	return &resp, nil
}

// ListRecords queries workflow records matching the given filter.
func (c *Client) ListRecords(ctx context.Context, token string, q ListQuery) (*ListResponse, error) {
	var resp ListResponse
	if err := c.doRequest(ctx, "getRegistroCabList", "/getRegistroCabList", token, q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveRecord inserts one record into the workflow.
func (c *Client) SaveRecord(ctx context.Context, token string, payload *RecordPayload) (*SaveResponse, error) {
	var resp SaveResponse
	if err := c.doRequest(ctx, "saveRegistroCab", "/saveRegistroCab", token, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doRequest posts a JSON body and decodes a JSON response. A non-2xx
// status becomes a *RequestError.
func (c *Client) doRequest(ctx context.Context, op, path, token string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	logger.Debug("api call completed",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Operation: op, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return nil
}
