package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const describePrompt = "describe this image in detail"

// GroqAnnotator describes images through the Groq OpenAI-compatible
// multimodal chat completions endpoint.
type GroqAnnotator struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var _ Annotator = &GroqAnnotator{}

func NewGroqAnnotator(apiKey, baseURL, model string) *GroqAnnotator {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return &GroqAnnotator{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Multimodal content parts per the OpenAI wire format.
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type visionRequest struct {
	Model     string          `json:"model"`
	Messages  []visionMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *GroqAnnotator) Describe(ctx context.Context, image string) (string, error) {
	url := normalizeImageURL(image)
	if url == "" {
		return "", fmt.Errorf("empty image payload")
	}

	reqBody := visionRequest{
		Model: a.model,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: describePrompt},
					{Type: "image_url", ImageURL: &imageURL{URL: url}},
				},
			},
		},
		MaxTokens: 1024,
	}

	payloadBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := a.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var visionResp visionResponse
	if err := json.Unmarshal(bodyBytes, &visionResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if visionResp.Error != nil {
		return "", fmt.Errorf("vision error: %s", visionResp.Error.Message)
	}
	if len(visionResp.Choices) == 0 {
		return "", fmt.Errorf("vision returned no choices")
	}

	return strings.TrimSpace(visionResp.Choices[0].Message.Content), nil
}

// normalizeImageURL turns bare base64 payloads into a data URL. Clients send
// either a hosted URL, a full data URL, or the raw base64 body of a JPEG/PNG.
func normalizeImageURL(image string) string {
	image = strings.TrimSpace(image)
	if image == "" {
		return ""
	}
	if strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") || strings.HasPrefix(image, "data:") {
		return image
	}
	return "data:image/jpeg;base64," + image
}
