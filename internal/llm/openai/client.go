package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
)

func (c *Client) Provider() string { return "openai" }

// Extract sends one page with the extraction prompt and returns the reply text untouched.
func (c *Client) Extract(ctx context.Context, img llm.Image) (string, error) {
	return c.complete(ctx, img, llm.ExtractionPrompt, true)
}

// ExtractText asks for a plain transcription of one page.
func (c *Client) ExtractText(ctx context.Context, img llm.Image) (string, error) {
	out, err := c.complete(ctx, img, llm.TextPrompt(img.Page), false)
	return strings.TrimSpace(out), err
}

func (c *Client) complete(ctx context.Context, img llm.Image, prompt string, jsonMode bool) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"provider", c.Provider(),
		"model", c.cfg.Model,
		"page", img.Page,
		"image_bytes", len(img.Data),
		"json_mode", jsonMode,
	)

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]any{"url": llm.DataURL(img)}},
				},
			},
		},
	}
	if jsonMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.log)
	if err != nil {
		c.log.Error("llm.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ModelCallError("openai request", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ModelCallError("decode openai response", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.extract.no_choices",
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ModelCallError("openai response", fmt.Errorf("no choices"))
	}

	content := cc.Choices[0].Message.Content
	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"page", img.Page,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}
