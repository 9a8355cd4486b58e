package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pageproof/internal/domain"
)

const defaultModel = "google/gemini-2.5-flash"

const analysisPrompt = `Analyze this document page. Return a JSON object with:
"summary" (2-3 sentences), "entities" (array of {name, type}), and
"textDensity" ("low", "medium" or "high"). Return only JSON.`

// Client calls an OpenAI-compatible chat completions endpoint with the page
// image attached.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient constructs a Client. model is the default used when a job does
// not select one.
func NewClient(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Analyze posts the page image and returns the model's structured analysis
// plus token usage. A single attempt; failures surface as analysis errors.
func (c *Client) Analyze(ctx context.Context, pageImageURL, model string) (json.RawMessage, Usage, error) {
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(completionRequest{
		Model: model,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: analysisPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: pageImageURL}},
			},
		}},
		ResponseFormat: json.RawMessage(`{"type":"json_object"}`),
	})
	if err != nil {
		return nil, Usage{}, domain.Analysis("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, domain.Analysis("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Usage{}, domain.Analysis("send request", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Usage{}, domain.Analysis("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Usage{}, domain.Analysis(fmt.Sprintf("analyzer returned status %d: %s", resp.StatusCode, truncate(respBody, 200)), nil)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, Usage{}, domain.Analysis("decode response", err)
	}
	if parsed.Error != nil {
		return nil, Usage{}, domain.Analysis(parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, Usage{}, domain.Analysis("analyzer returned no choices", nil)
	}
	usage := Usage{
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}

	content := parsed.Choices[0].Message.Content
	if json.Valid([]byte(content)) {
		return json.RawMessage(content), usage, nil
	}
	// Model replied with prose despite the JSON instruction; keep it rather
	// than failing the page.
	wrapped, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return nil, usage, domain.Analysis("wrap response", err)
	}
	return wrapped, usage, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(bytes.TrimSpace(b))
}
