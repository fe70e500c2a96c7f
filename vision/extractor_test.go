package vision

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"insightpdf/core"
)

func newTestExtractor(t *testing.T, fake *fakeModel, logger *zap.Logger) *Extractor {
	t.Helper()
	cfg := &core.Config{
		DefaultProvider: "qwen",
		APITimeout:      5 * time.Second,
		Providers:       map[string]core.ProviderConfig{"qwen": fake.providerConfig("qwen")},
	}
	return NewExtractor(NewRegistry(cfg), fastRetry(), 0, logger)
}

func TestExtractorSuccess(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	fake := newFakeModel(t, `{"questions": [{"content": "A"}]}`)
	ex := newTestExtractor(t, fake, zap.New(obs))

	resp, err := ex.Extract(context.Background(), Request{
		ImagePath: writePNG(t, 40, 60),
		Filename:  "exam.pdf",
		Options:   PromptOptions{ExtractAnswers: true, ExtractKnowledgePoints: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"questions": [{"content": "A"}]}`, resp.Text)
	assert.Equal(t, "qwen", resp.Provider)
	assert.Equal(t, "fake-vl", resp.Model)
	assert.Equal(t, 1, resp.Attempts)

	prompt := fake.lastRequest()["messages"].([]any)[0].(map[string]any)["content"].([]any)[0].(map[string]any)["text"].(string)
	assert.Contains(t, prompt, `"source": "exam.pdf"`)

	assert.Equal(t, 1, logs.FilterMessage("vision call completed").Len())
}

func TestExtractorRetriesTransientErrors(t *testing.T) {
	obs, logs := observer.New(zap.WarnLevel)
	fake := newFakeModel(t, "[]", http.StatusServiceUnavailable, http.StatusTooManyRequests)
	ex := newTestExtractor(t, fake, zap.New(obs))

	resp, err := ex.Extract(context.Background(), Request{ImagePath: writePNG(t, 10, 10)})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.EqualValues(t, 3, fake.calls.Load())
	assert.Equal(t, 2, logs.FilterMessage("vision call failed, retrying").Len())
}

func TestExtractorExhaustsRetries(t *testing.T) {
	fake := newFakeModel(t, "[]", 500, 502, 504)
	ex := newTestExtractor(t, fake, nil)

	resp, err := ex.Extract(context.Background(), Request{ImagePath: writePNG(t, 10, 10)})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 3, fake.calls.Load())
	assert.Equal(t, 3, resp.Attempts)
	assert.Empty(t, resp.Text)
}

func TestExtractorDoesNotRetryClientErrors(t *testing.T) {
	fake := newFakeModel(t, "[]", http.StatusBadRequest)
	ex := newTestExtractor(t, fake, nil)

	_, err := ex.Extract(context.Background(), Request{ImagePath: writePNG(t, 10, 10)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestExtractorProviderErrors(t *testing.T) {
	fake := newFakeModel(t, "[]")
	ex := newTestExtractor(t, fake, nil)

	_, err := ex.Extract(context.Background(), Request{ImagePath: writePNG(t, 10, 10), Provider: "nope"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.EqualValues(t, 0, fake.calls.Load())
}

func TestExtractorMissingImage(t *testing.T) {
	fake := newFakeModel(t, "[]")
	ex := newTestExtractor(t, fake, nil)

	_, err := ex.Extract(context.Background(), Request{ImagePath: "/does/not/exist.png"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "exist.png"))
	assert.EqualValues(t, 0, fake.calls.Load())
}
