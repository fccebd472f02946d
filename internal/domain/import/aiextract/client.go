// Package aiextract is the Gemini-backed page extractor. Text mode reads a
// page from its extracted text; vision mode re-reads it from the page image
// with the first pass as a correction hint.
package aiextract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/FACorreiaa/fiskal-ledger/pkg/metrics"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("ai extraction circuit open")
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("ai extraction timed out")
)

const (
	modeText   = "text"
	modeVision = "vision"
)

// Generator is the slice of the genai client the extractor calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config tunes models, deadlines and throttling.
type Config struct {
	APIKey        string
	Model         string
	VisionModel   string
	TextTimeout   time.Duration
	VisionTimeout time.Duration
	RatePerSecond float64
	RateBurst     int
	CacheTTL      time.Duration
}

// RepairRequest carries everything the vision pass needs for one page.
type RepairRequest struct {
	Page          int
	Text          string
	Image         []byte
	ImageMIMEType string
	Hint          *PageCandidate
}

// Client extracts page candidates through Gemini.
type Client struct {
	gen     Generator
	cfg     Config
	cache   *cache.Cache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewGeminiClient builds a Client backed by the Gemini API.
func NewGeminiClient(ctx context.Context, cfg Config, responses *cache.Cache, rec metrics.Recorder, logger *slog.Logger) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return New(gc.Models, cfg, responses, rec, logger), nil
}

// New creates a Client over any Generator. responses may be nil to disable
// caching of text-mode results.
func New(gen Generator, cfg Config, responses *cache.Cache, rec metrics.Recorder, logger *slog.Logger) *Client {
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.VisionTimeout <= 0 {
		cfg.VisionTimeout = 90 * time.Second
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = 45 * time.Second
	}
	if rec == nil {
		rec = metrics.Noop{}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		gen:     gen,
		cfg:     cfg,
		cache:   responses,
		limiter: rate.NewLimiter(limit, burst),
		metrics: rec,
		logger:  logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			rec.CircuitState(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// ExtractPage runs the text pass for one page. Identical texts are served
// from the response cache.
func (c *Client) ExtractPage(ctx context.Context, page int, text string) (*PageCandidate, error) {
	key := cacheKey(c.cfg.Model, text)
	if c.cache != nil {
		if raw, ok := c.cache.Get(key); ok {
			c.metrics.AICacheHit(modeText)
			return Decode(raw.(string))
		}
	}

	contents := []*genai.Content{
		genai.NewContentFromText(textPrompt(page, text), genai.RoleUser),
	}
	raw, err := c.generate(ctx, modeText, c.cfg.Model, c.cfg.TextTimeout, contents)
	if err != nil {
		return nil, err
	}

	candidate, err := Decode(raw)
	if err != nil {
		c.metrics.AICall(modeText, "invalid", 0)
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, raw, cache.DefaultExpiration)
	}
	return candidate, nil
}

// RepairPage runs the vision pass for one page.
func (c *Client) RepairPage(ctx context.Context, req RepairRequest) (*PageCandidate, error) {
	var hint []byte
	if req.Hint != nil {
		var err error
		if hint, err = Encode(req.Hint); err != nil {
			return nil, fmt.Errorf("failed to encode repair hint: %w", err)
		}
	}

	parts := []*genai.Part{genai.NewPartFromText(repairPrompt(req.Page, req.Text, hint))}
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, req.ImageMIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	raw, err := c.generate(ctx, modeVision, c.cfg.VisionModel, c.cfg.VisionTimeout, contents)
	if err != nil {
		return nil, err
	}
	candidate, err := Decode(raw)
	if err != nil {
		c.metrics.AICall(modeVision, "invalid", 0)
		return nil, err
	}
	return candidate, nil
}

func (c *Client) generate(ctx context.Context, mode, model string, timeout time.Duration, contents []*genai.Content) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.gen.GenerateContent(callCtx, model, contents, config)
		if err != nil {
			return nil, err
		}
		return resp.Text(), nil
	})
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.AICall(mode, "circuit_open", elapsed)
		return "", ErrCircuitOpen
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		c.metrics.AICall(mode, "timeout", elapsed)
		return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case err != nil:
		c.metrics.AICall(mode, "error", elapsed)
		return "", fmt.Errorf("gemini %s call failed: %w", mode, err)
	}

	c.metrics.AICall(mode, "ok", elapsed)
	return result.(string), nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return modeText + ":" + hex.EncodeToString(sum[:])
}
