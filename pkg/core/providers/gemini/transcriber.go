package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/live"
)

const transcribePrompt = "Transcribe this audio verbatim. Reply with the spoken words only, " +
	"no commentary. Reply with an empty string if there is no intelligible speech."

// Transcriber turns committed utterances into text by sending the raw PCM
// to Gemini inline.
type Transcriber struct {
	client *genai.Client
	model  string
}

// NewTranscriber reuses a Provider's client. An empty model falls back to
// the provider default.
func NewTranscriber(p *Provider, model string) *Transcriber {
	if strings.TrimSpace(model) == "" {
		model = p.model
	}
	return &Transcriber{client: p.client, model: model}
}

func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, format live.AudioConfig) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{
				MIMEType: fmt.Sprintf("audio/pcm;rate=%d", format.SampleRate),
				Data:     pcm,
			}},
		},
	}}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		return "", core.NewUpstreamModelError("gemini", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
