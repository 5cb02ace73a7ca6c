package enrichment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
)

type fakeModel struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, m := range messages {
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				f.prompt += tp.Text
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

var testLLMConfig = conf.LLMConfig{Model: "deepseek-chat", BaseURL: "https://api.deepseek.com", Temperature: 0.3}

func TestLLMEnricherParsesFencedJSON(t *testing.T) {
	model := &fakeModel{reply: "Sure!\n```json\n{\"summary\":\"Go 1.24 ships generic aliases.\",\"simple_explanation\":\"Types get nicknames.\",\"key_points\":[\"aliases\",\"swiss tables\"],\"hashtags\":[\"#golang\"],\"read_time\":4,\"confidence\":0.7}\n```"}
	e := NewLLMEnricherWithModel(model, testLLMConfig)

	res, err := e.Enrich(context.Background(), &objects.DiscoveredContent{
		ID: 1, Title: "Go 1.24", CanonicalURL: "https://go.dev/blog/go1.24", Excerpt: "release notes",
	})
	require.NoError(t, err)
	assert.Equal(t, "Go 1.24 ships generic aliases.", res.Summary)
	assert.Equal(t, []string{"aliases", "swiss tables"}, res.KeyPoints)
	require.NotNil(t, res.ReadTime)
	assert.Equal(t, 4, *res.ReadTime)
	assert.Equal(t, PromptVersion, res.ModelMeta["prompt_version"])
	assert.Equal(t, "deepseek-chat", res.ModelMeta["model"])
	assert.Contains(t, model.prompt, "https://go.dev/blog/go1.24")
}

func TestLLMEnricherErrorClassification(t *testing.T) {
	c := &objects.DiscoveredContent{ID: 2, Title: "x"}

	e := NewLLMEnricherWithModel(&fakeModel{reply: "I cannot help with that."}, testLLMConfig)
	_, err := e.Enrich(context.Background(), c)
	assert.True(t, errs.IsPermanent(err))

	e = NewLLMEnricherWithModel(&fakeModel{err: errors.New("dial tcp: i/o timeout")}, testLLMConfig)
	_, err = e.Enrich(context.Background(), c)
	assert.True(t, errs.IsTransient(err))

	e = NewLLMEnricherWithModel(&fakeModel{err: errors.New("API returned unexpected status code: 401")}, testLLMConfig)
	_, err = e.Enrich(context.Background(), c)
	assert.True(t, errs.IsPermanent(err))
}

func TestParseOutputRequiresSummary(t *testing.T) {
	_, err := parseOutput(`{"summary": ""}`)
	assert.Error(t, err)

	out, err := parseOutput(`prefix {"summary": "ok", "key_points": []} suffix`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Summary)
}
