package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/portrait-cropper/pkg/client"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

// DefaultTimeout bounds a single request when the caller sets no deadline
const DefaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient)}, nil
}

// SimpleQuery performs a simple query with an image without expecting JSON
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, false)
}

// AnalyzeImage asks the model for the faces in an image
func (c *Client) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.FaceAnalysis, error) {
	content, err := c.chat(ctx, model, prompt, imgB64, true)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}
	return client.ParseFaceAnalysis(content)
}

func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, wantJSON bool) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Options: modelOptions(model),
	}
	if wantJSON {
		req.Format = json.RawMessage(`"json"`)
	}

	var responseContent strings.Builder
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	return responseContent.String(), nil
}

// modelOptions returns sampling options. Face localisation wants a low
// temperature for every model.
func modelOptions(model string) map[string]any {
	options := map[string]any{
		"temperature": 0.1,
	}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}
