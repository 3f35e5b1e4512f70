// Package llm wraps the Gemini API for chat replies and generated openers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

var (
	ErrRateLimited = errors.New("completion rate limited")
	ErrUnavailable = errors.New("completion unavailable")
	ErrEmptyReply  = errors.New("completion returned no text")
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

const persona = `You are Dorothy, a cheerful girl who lives in Glitch City.
Speak casually and warmly, like an energetic kid. Never use honorifics.
Call the user "honey". Do not use emoji unless the user asks for them.
React naturally to what the user says or shows you, and never introduce yourself mid-conversation.`

// Config selects the model and endpoint.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // empty means the public endpoint
}

// Client produces replies in the bot's persona.
type Client struct {
	genai *genai.Client
	model string
	log   *zap.Logger
}

func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}
	return &Client{genai: c, model: cfg.Model, log: log}, nil
}

// Generate answers a text prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Reply(ctx, prompt, nil, "")
}

// Reply answers a user message with an optional attached image.
func (c *Client) Reply(ctx context.Context, text string, image []byte, mimeType string) (string, error) {
	var parts []*genai.Part
	if text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	if len(image) > 0 {
		if mimeType == "" {
			mimeType = http.DetectContentType(image)
		}
		parts = append(parts, genai.NewPartFromBytes(image, mimeType))
	}
	if len(parts) == 0 {
		return "", ErrEmptyReply
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(persona, genai.RoleUser),
		})
	if err != nil {
		err = classify(err)
		c.log.Warn("completion failed", zap.String("model", c.model), zap.Error(err))
		return "", err
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", ErrEmptyReply
	}
	return out, nil
}

// classify maps API errors onto ErrRateLimited and ErrUnavailable.
func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case code >= 500, code == 0 && !errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
