package llm

import (
	"context"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

// VertexGemini is the alternate backend, used when the deployment runs
// against Vertex AI instead of an OpenRouter-compatible endpoint.
type VertexGemini struct {
	client       *vertexgenai.Client
	defaultModel string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &VertexGemini{client: c, defaultModel: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

// chatSession maps the relay's role-tagged messages onto a Gemini chat:
// the system turn becomes the system instruction, prior turns become
// history, and the newest user turn is the message to send.
func (v *VertexGemini) chatSession(r Request) (*vertexgenai.ChatSession, vertexgenai.Text) {
	name := r.Model
	if name == "" || strings.Contains(name, "/") {
		name = v.defaultModel
	}

	model := v.client.GenerativeModel(name)
	if r.Temperature > 0 {
		model.SetTemperature(float32(r.Temperature))
	}
	if r.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(r.MaxTokens))
	}

	msgs := r.Messages
	if len(msgs) > 0 && msgs[0].Role == "system" {
		model.SystemInstruction = &vertexgenai.Content{
			Parts: []vertexgenai.Part{vertexgenai.Text(msgs[0].Content)},
		}
		msgs = msgs[1:]
	}

	last := ""
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].Content
		msgs = msgs[:len(msgs)-1]
	}

	cs := model.StartChat()
	for _, m := range msgs {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &vertexgenai.Content{
			Role:  role,
			Parts: []vertexgenai.Part{vertexgenai.Text(m.Content)},
		})
	}
	return cs, vertexgenai.Text(last)
}

func (v *VertexGemini) Complete(ctx context.Context, r Request) (*Completion, error) {
	cs, last := v.chatSession(r)

	resp, err := cs.SendMessage(ctx, last)
	if err != nil {
		return nil, err
	}

	out := &Completion{Model: r.Model}
	if resp.UsageMetadata != nil {
		out.TokensPrompt = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensCompletion = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		out.FinishReason = cand.FinishReason.String()
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	out.Content = b.String()
	return out, nil
}

func (v *VertexGemini) Stream(ctx context.Context, r Request) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		cs, last := v.chatSession(r)

		it := cs.SendMessageStream(ctx, last)
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- err
				return
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
						select {
						case out <- string(t):
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	return out, errs
}
