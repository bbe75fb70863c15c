package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient talks to an OpenAI-compatible API (chat completions + files).
type OpenAIClient struct {
	BaseURL string // e.g. https://api.openai.com
	APIKey  string
	Model   string // e.g. gpt-4o-mini
	HTTP    *http.Client
}

func (c *OpenAIClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *OpenAIClient) url(path string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + path
}

// Complete asks for a structured answer constrained by schema and decodes the
// message content into out. Transport and non-200 failures map to
// ErrUnavailable; undecodable content maps to ErrSchemaMismatch.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, schema map[string]any, out any) error {
	reqBody := map[string]any{
		"model": c.Model,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "result",
				"schema": schema,
			},
		},
	}
	content, err := c.chat(ctx, reqBody)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode structured result: %w", ErrSchemaMismatch)
	}
	return nil
}

// Respond asks for a plain conversational reply.
func (c *OpenAIClient) Respond(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model": c.Model,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	return c.chat(ctx, reqBody)
}

func (c *OpenAIClient) chat(ctx context.Context, reqBody map[string]any) (string, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		slog.Warn("completion request failed", "err", err)
		return "", fmt.Errorf("chat completion: %w", ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("completion API returned non-200", "status", resp.StatusCode)
		return "", fmt.Errorf("chat completion status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode completion response: %w", ErrUnavailable)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response: %w", ErrSchemaMismatch)
	}
	return apiResp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) UploadFile(ctx context.Context, name string, content []byte) (FileInfo, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return FileInfo{}, err
	}
	if _, err := fw.Write(content); err != nil {
		return FileInfo{}, err
	}
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return FileInfo{}, err
	}
	if err := mw.Close(); err != nil {
		return FileInfo{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/files"), &buf)
	if err != nil {
		return FileInfo{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return FileInfo{}, fmt.Errorf("upload file: %w", ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return FileInfo{}, fmt.Errorf("upload file status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	var fr struct {
		ID        string `json:"id"`
		Filename  string `json:"filename"`
		Bytes     int64  `json:"bytes"`
		CreatedAt int64  `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return FileInfo{}, err
	}
	return FileInfo{ID: fr.ID, Name: fr.Filename, Size: fr.Bytes, CreatedAt: time.Unix(fr.CreatedAt, 0).UTC()}, nil
}

func (c *OpenAIClient) ListFiles(ctx context.Context) ([]FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1/files"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list files status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	var lr struct {
		Data []struct {
			ID        string `json:"id"`
			Filename  string `json:"filename"`
			Bytes     int64  `json:"bytes"`
			CreatedAt int64  `json:"created_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(lr.Data))
	for _, f := range lr.Data {
		out = append(out, FileInfo{ID: f.ID, Name: f.Filename, Size: f.Bytes, CreatedAt: time.Unix(f.CreatedAt, 0).UTC()})
	}
	return out, nil
}

func (c *OpenAIClient) DeleteFile(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url("/v1/files/"+id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("delete file: %w", ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete file status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	return nil
}
