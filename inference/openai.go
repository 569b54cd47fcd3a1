package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient calls the OpenAI chat completions endpoint.
type OpenAIClient struct {
	client *resty.Client
	model  string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: resty.New().
			SetBaseURL(defaultBaseURL).
			SetAuthToken(apiKey).
			SetTimeout(30 * time.Second).
			SetRetryCount(2),
		model: model,
	}
}

// WithBaseURL points the client at a different API host. Used for proxies
// and for tests.
func (c *OpenAIClient) WithBaseURL(baseURL string) *OpenAIClient {
	c.client.SetBaseURL(baseURL)
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) GenerateCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var result chatResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
		}).
		SetResult(&result).
		SetError(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	if resp.IsError() {
		if result.Error != nil {
			return "", fmt.Errorf("completion request returned %d: %s", resp.StatusCode(), result.Error.Message)
		}
		return "", fmt.Errorf("completion request returned %d", resp.StatusCode())
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return result.Choices[0].Message.Content, nil
}
