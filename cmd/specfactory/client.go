package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rodcar/agentic-software-factory/internal/archive"
	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/session"
)

// turnTimeout bounds one message round trip. A turn can run several agent
// calls back to back, so this is generous.
const turnTimeout = 5 * time.Minute

// MessageRequest matches internal/httpapi/handlers.go MessageRequest
type MessageRequest struct {
	Text string `json:"text"`
}

// DocumentResponse matches internal/httpapi/handlers.go DocumentResponse
type DocumentResponse struct {
	SessionID string           `json:"session_id"`
	Document  document.Version `json:"document"`
}

// SearchResponse matches internal/httpapi/handlers.go SearchResponse
type SearchResponse struct {
	Query string        `json:"query"`
	Hits  []archive.Hit `json:"hits"`
}

// apiClient wraps HTTP calls against the specfactoryd server.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: turnTimeout},
	}
}

// sendMessage posts one user turn and returns the agent replies. An
// empty session id mints a fresh one; the daemon creates the session
// on first contact.
func (c *apiClient) sendMessage(sessionID, text string) (*session.TurnResult, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	reqJSON, err := json.Marshal(MessageRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/messages", c.baseURL, url.PathEscape(sessionID))
	resp, err := c.client.Post(endpoint, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var result session.TurnResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// getSession fetches a session snapshot.
func (c *apiClient) getSession(sessionID string) (*session.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s", c.baseURL, url.PathEscape(sessionID))
	resp, err := c.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &snap, nil
}

// closeSession closes a session and drops its working documents.
func (c *apiClient) closeSession(sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}
	return nil
}

// getDocument fetches the current version of a session artifact.
func (c *apiClient) getDocument(sessionID string, kind document.Kind) (*DocumentResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/documents/%s", c.baseURL, url.PathEscape(sessionID), string(kind))
	resp, err := c.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var doc DocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &doc, nil
}

// export fetches an artifact rendered in the given format and returns the
// raw body.
func (c *apiClient) export(sessionID string, kind document.Kind, format string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/export/%s?format=%s",
		c.baseURL, url.PathEscape(sessionID), string(kind), url.QueryEscape(format))
	resp, err := c.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// search queries the approved-artifact archive.
func (c *apiClient) search(query string, k int) (*SearchResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/archive/search?q=%s&k=%s",
		c.baseURL, url.QueryEscape(query), strconv.Itoa(k))
	resp, err := c.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// responseError turns a non-2xx response into an error, preferring the
// echo error envelope's message field over the raw body.
func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}

	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, envelope.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
