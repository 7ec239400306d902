// Package gemini implements the extraction contract on Vertex AI Gemini models.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
)

const systemInstruction = "Você extrai dados estruturados de notas fiscais brasileiras e responde somente com JSON."

type Config struct {
	ProjectID   string
	Region      string
	Model       string // default gemini-2.0-flash
	Temperature float32
	Options     []option.ClientOption
}

// generator is the subset of *genai.GenerativeModel the client uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type Client struct {
	cfg     Config
	base    *genai.Client
	extract generator
	text    generator
	log     *slog.Logger
}

// NewClient dials Vertex AI and prepares a JSON-mode model for extraction and a plain one for transcription.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, common.NewAppError(common.CodeConfig, "gemini: project id and region are required", common.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extract := base.GenerativeModel(cfg.Model)
	extract.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	extract.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(cfg.Temperature),
	}

	text := base.GenerativeModel(cfg.Model)
	text.SetTemperature(cfg.Temperature)

	return &Client{cfg: cfg, base: base, extract: extract, text: text, log: logger}, nil
}

func (c *Client) Provider() string { return "gemini" }

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

func (c *Client) Extract(ctx context.Context, img llm.Image) (string, error) {
	return c.generate(ctx, c.extract, img, llm.ExtractionPrompt)
}

func (c *Client) ExtractText(ctx context.Context, img llm.Image) (string, error) {
	out, err := c.generate(ctx, c.text, img, llm.TextPrompt(img.Page))
	return strings.TrimSpace(out), err
}

func (c *Client) generate(ctx context.Context, model generator, img llm.Image, prompt string) (string, error) {
	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("llm.extract.start",
		"req_id", rid,
		"provider", c.Provider(),
		"model", c.cfg.Model,
		"page", img.Page,
		"image_bytes", len(img.Data),
	)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt), imagePart(img))
	if err != nil {
		c.log.Error("llm.extract.call_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ModelCallError("gemini generate", err)
	}

	out, err := responseText(resp)
	if err != nil {
		c.log.Error("llm.extract.empty_response",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ModelCallError("gemini response", err)
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"page", img.Page,
		"content_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func imagePart(img llm.Image) genai.Part {
	mt := img.MIMEType
	if mt == "" {
		mt = "image/jpeg"
	}
	return genai.Blob{MIMEType: mt, Data: img.Data}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("candidate has no content (finish reason %v)", cand.FinishReason)
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
