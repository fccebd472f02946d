package aiextract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// MockGenerator is a scripted Generator.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	block     bool
	calls     []mockCall
}

type mockCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (m *MockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{model: model, contents: contents, config: config})
	block, err := m.block, m.err
	var text string
	if len(m.responses) > 0 {
		text = m.responses[0]
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Model:         "gemini-2.5-flash",
		VisionModel:   "gemini-2.5-pro",
		TextTimeout:   time.Second,
		VisionTimeout: time.Second,
	}
}

const emptyPage = `{"pageStartBalance": "10,00", "pageEndBalance": "10,00", "transactions": []}`

func TestClient_ExtractPage(t *testing.T) {
	gen := &MockGenerator{responses: []string{samplePage}}
	client := New(gen, testConfig(), nil, nil, testLogger())

	c, err := client.ExtractPage(context.Background(), 1, "IZVOD BR. 31 ...")
	require.NoError(t, err)
	assert.Len(t, c.Transactions, 2)

	require.Len(t, gen.calls, 1)
	call := gen.calls[0]
	assert.Equal(t, "gemini-2.5-flash", call.model)
	assert.Equal(t, "application/json", call.config.ResponseMIMEType)
	require.NotNil(t, call.config.SystemInstruction)
	assert.Contains(t, call.contents[0].Parts[0].Text, "IZVOD BR. 31")
}

func TestClient_ExtractPage_UsesCache(t *testing.T) {
	gen := &MockGenerator{responses: []string{emptyPage, emptyPage}}
	responses := cache.New(time.Minute, time.Minute)
	client := New(gen, testConfig(), responses, nil, testLogger())

	first, err := client.ExtractPage(context.Background(), 1, "same text")
	require.NoError(t, err)
	second, err := client.ExtractPage(context.Background(), 2, "same text")
	require.NoError(t, err)

	assert.Len(t, gen.calls, 1, "identical page text is served from cache")
	assert.NotSame(t, first, second, "cached results are decoded fresh")

	_, err = client.ExtractPage(context.Background(), 3, "other text")
	require.NoError(t, err)
	assert.Len(t, gen.calls, 2)
}

func TestClient_ExtractPage_InvalidResponseIsNotCached(t *testing.T) {
	gen := &MockGenerator{responses: []string{"```json\n{}\n```", emptyPage}}
	responses := cache.New(time.Minute, time.Minute)
	client := New(gen, testConfig(), responses, nil, testLogger())

	_, err := client.ExtractPage(context.Background(), 1, "page")
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = client.ExtractPage(context.Background(), 1, "page")
	require.NoError(t, err)
	assert.Len(t, gen.calls, 2)
}

func TestClient_Timeout(t *testing.T) {
	gen := &MockGenerator{block: true}
	cfg := testConfig()
	cfg.TextTimeout = 20 * time.Millisecond
	client := New(gen, cfg, nil, nil, testLogger())

	_, err := client.ExtractPage(context.Background(), 1, "page")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	gen := &MockGenerator{err: errors.New("503 unavailable")}
	client := New(gen, testConfig(), nil, nil, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.ExtractPage(ctx, 1, "page")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := client.ExtractPage(ctx, 1, "page")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, gen.calls, 5, "open breaker does not reach the model")
}

func TestClient_RepairPage(t *testing.T) {
	gen := &MockGenerator{responses: []string{emptyPage}}
	client := New(gen, testConfig(), nil, nil, testLogger())

	hint, err := Decode(samplePage)
	require.NoError(t, err)

	_, err = client.RepairPage(context.Background(), RepairRequest{
		Page:          2,
		Text:          "stranica dva",
		Image:         []byte("%PDF-1.7"),
		ImageMIMEType: "application/pdf",
		Hint:          hint,
	})
	require.NoError(t, err)

	require.Len(t, gen.calls, 1)
	call := gen.calls[0]
	assert.Equal(t, "gemini-2.5-pro", call.model)

	parts := call.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "stranica dva")
	assert.Contains(t, parts[0].Text, `"pageEndBalance":1200.50`)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "application/pdf", parts[1].InlineData.MIMEType)
}

func TestClient_RepairPage_WithoutHint(t *testing.T) {
	gen := &MockGenerator{responses: []string{emptyPage}}
	client := New(gen, testConfig(), nil, nil, testLogger())

	_, err := client.RepairPage(context.Background(), RepairRequest{Page: 1, Image: []byte{1}, ImageMIMEType: "image/png"})
	require.NoError(t, err)
	assert.Contains(t, gen.calls[0].contents[0].Parts[0].Text, "nema čitljiv tekstualni sloj")
}
