package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/portrait-cropper/pkg/client"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

// Client talks to a llama.cpp server through its OpenAI-compatible API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient creates a client for the server at serverURL
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

// SimpleQuery performs a simple query with an image without expecting JSON
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.complete(ctx, model, prompt, imgB64, 2048, 0.7)
}

// AnalyzeImage asks the model for the faces in an image
func (c *Client) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.FaceAnalysis, error) {
	text, err := c.complete(ctx, model, prompt, imgB64, 4096, 0.1)
	if err != nil {
		return nil, err
	}
	return client.ParseFaceAnalysis(text)
}

func (c *Client) complete(ctx context.Context, model, prompt, imgB64 string, maxTokens int, temperature float64) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	content := []ContentPart{
		{
			Type: "text",
			Text: prompt,
		},
	}

	if imgB64 != "" {
		content = append(content, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: "data:image/jpeg;base64," + imgB64,
			},
		})
	}

	req := ChatCompletionRequest{
		Model: model,
		Messages: []Message{
			{
				Role:    "user",
				Content: content,
			},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		TopP:        0.8,
		Stream:      false,
	}

	respBody, err := c.sendRequest(ctx, "/v1/chat/completions", req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	// Extract text from the response (handle both string and array formats)
	switch content := resp.Choices[0].Message.Content.(type) {
	case string:
		if content != "" {
			return content, nil
		}
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text, nil
				}
			}
		}
	}

	return "", fmt.Errorf("empty response from llama.cpp server")
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
