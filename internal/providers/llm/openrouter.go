package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter talks to an OpenRouter-compatible chat completion API.
type OpenRouter struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewOpenRouter(baseURL, apiKey string, timeout time.Duration) *OpenRouter {
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenRouter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (o *OpenRouter) Close() error { return nil }

type chatCompletionPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenRouter) newRequest(ctx context.Context, payload chatCompletionPayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (o *OpenRouter) Complete(ctx context.Context, r Request) (*Completion, error) {
	req, err := o.newRequest(ctx, chatCompletionPayload{
		Model:       r.Model,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiErrorFromResponse(resp)
	}

	var data chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &APIError{Message: "malformed completion response: " + err.Error()}
	}
	// Some gateways report failures in the body of a 200.
	if data.Error != nil && data.Error.Message != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: data.Error.Message}
	}
	if len(data.Choices) == 0 {
		return nil, &APIError{Message: "completion response has no choices"}
	}

	choice := data.Choices[0]
	model := data.Model
	if model == "" {
		model = r.Model
	}
	return &Completion{
		Content:          choice.Message.Content,
		Model:            model,
		TokensPrompt:     data.Usage.PromptTokens,
		TokensCompletion: data.Usage.CompletionTokens,
		FinishReason:     choice.FinishReason,
	}, nil
}

func (o *OpenRouter) Stream(ctx context.Context, r Request) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		req, err := o.newRequest(ctx, chatCompletionPayload{
			Model:       r.Model,
			Messages:    r.Messages,
			Temperature: r.Temperature,
			MaxTokens:   r.MaxTokens,
			Stream:      true,
		})
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := o.http.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errs <- apiErrorFromResponse(resp)
			return
		}

		if err := readSSE(ctx, resp.Body, out); err != nil {
			errs <- err
		}
	}()

	return out, errs
}

// readSSE parses "data:" lines off an event stream and forwards the
// content deltas until the "[DONE]" sentinel or EOF.
func readSSE(ctx context.Context, body io.Reader, out chan<- string) error {
	reader := bufio.NewReader(body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			select {
			case out <- content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func apiErrorFromResponse(resp *http.Response) error {
	const maxErrBody = 8 << 10
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))

	msg := strings.TrimSpace(string(body))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
