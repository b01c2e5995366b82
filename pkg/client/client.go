package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/zeta/pkg/types"
)

// Client wraps the Zeta control-plane HTTP API for CLI use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client targeting the control plane at baseURL
// (e.g. "http://127.0.0.1:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 70 * time.Second},
	}
}

type apiEnvelope struct {
	Status       string                  `json:"status"`
	Message      string                  `json:"message,omitempty"`
	ZetaMetadata *types.FunctionMetadata `json:"zetaMetadata,omitempty"`
	Response     map[string]any          `json:"response,omitempty"`
}

// List returns every registered function's metadata.
func (c *Client) List() ([]types.FunctionMetadata, error) {
	resp, err := c.http.Get(c.baseURL + "/zeta/meta")
	if err != nil {
		return nil, fmt.Errorf("list zetas: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var out []types.FunctionMetadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return out, nil
}

// Get returns one function's metadata.
func (c *Client) Get(name string) (types.FunctionMetadata, error) {
	resp, err := c.http.Get(c.baseURL + "/zeta/meta/" + url.PathEscape(name))
	if err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("get zeta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.FunctionMetadata{}, apiError(resp)
	}
	var out types.FunctionMetadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("decode get response: %w", err)
	}
	return out, nil
}

// Create uploads handlerSource as the function named name, building a
// fresh runner image around it.
func (c *Client) Create(name string, handlerSource []byte) (types.FunctionMetadata, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("handler", "handler.py")
	if err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(handlerSource); err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("write handler source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/zeta/create/"+url.PathEscape(name), &body)
	if err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("create zeta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return types.FunctionMetadata{}, apiError(resp)
	}
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return types.FunctionMetadata{}, fmt.Errorf("decode create response: %w", err)
	}
	if env.ZetaMetadata == nil {
		return types.FunctionMetadata{}, fmt.Errorf("create response missing zetaMetadata")
	}
	return *env.ZetaMetadata, nil
}

// Invoke runs name with params and returns its decoded response.
func (c *Client) Invoke(name string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/zeta/run/"+url.PathEscape(name), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invoke zeta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode invoke response: %w", err)
	}
	return env.Response, nil
}

// Delete removes a function.
func (c *Client) Delete(name string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/zeta/"+url.PathEscape(name), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete zeta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Message != "" {
		return fmt.Errorf("%s: %s", resp.Status, env.Message)
	}
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s: %s", resp.Status, string(b))
}
