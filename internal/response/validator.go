// Package response turns raw model replies into page outcomes. Parse never fails:
// every problem becomes an unsuccessful ExtractionOutcome.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
)

const schemaURL = "mem://envelope.json"

type Validator struct {
	logger *slog.Logger

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

func (v *Validator) compiled() (*jsonschema.Schema, error) {
	v.once.Do(func() {
		b, err := json.Marshal(llm.BuildEnvelopeSchema())
		if err != nil {
			v.err = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
			v.err = fmt.Errorf("add schema: %w", err)
			return
		}
		v.schema, v.err = compiler.Compile(schemaURL)
	})
	return v.schema, v.err
}

// Parse validates one raw reply.
func (v *Validator) Parse(raw string) entity.ExtractionOutcome {
	cleaned := llm.StripCodeFence(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return v.parseFailure(raw, err)
	}
	if dec.More() {
		return v.parseFailure(raw, fmt.Errorf("trailing data after JSON value"))
	}

	envelope, ok := doc.(map[string]any)
	if !ok {
		return v.parseFailure(raw, fmt.Errorf("top-level value is %s, not an object", kindOf(doc)))
	}

	normalizeEnvelope(envelope)
	if schema, err := v.compiled(); err != nil {
		v.logger.Error("response.schema.compile_error", "error", err)
	} else if err := schema.Validate(envelope); err != nil {
		return v.parseFailure(raw, fmt.Errorf("envelope does not match schema: %s", schemaMessage(err)))
	}

	data, hasData := envelope["data"].(map[string]any)
	success, hasFlag := envelope["success"].(bool)
	if !hasFlag {
		success = hasData
	}
	errMsg, _ := envelope["error"].(string)

	if !success {
		if errMsg == "" {
			errMsg = "model reported failure without a reason"
		}
		return entity.ExtractionOutcome{Success: false, Error: errMsg}
	}
	if !hasData {
		v.logger.Warn("response.parse.no_data", "raw_len", len(raw))
		return entity.ExtractionOutcome{Success: false, Error: "success reported without data"}
	}

	rec, coerced := DecodeRecord(data)
	if len(coerced) > 0 {
		v.logger.Warn("response.parse.coerced_to_null", "fields", coerced)
	}
	return entity.ExtractionOutcome{Success: true, Data: rec}
}

func (v *Validator) parseFailure(raw string, err error) entity.ExtractionOutcome {
	v.logger.Error("response.parse.error", "error", err, "raw_len", len(raw))
	return entity.ExtractionOutcome{
		Success: false,
		Error:   "parse error: " + err.Error(),
		RawText: raw,
		Err:     common.ParseError("model reply", err),
	}
}

// normalizeEnvelope reads "success" for its truthiness and drops an "error" that is
// not text, so only a malformed "data" member fails the schema.
func normalizeEnvelope(env map[string]any) {
	switch s := env["success"].(type) {
	case bool:
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			env["success"] = b
		} else {
			delete(env, "success")
		}
	case json.Number:
		if f, err := s.Float64(); err == nil {
			env["success"] = f != 0
		} else {
			delete(env, "success")
		}
	default:
		delete(env, "success")
	}
	if _, ok := env["error"].(string); !ok {
		delete(env, "error")
	}
}

// schemaMessage reports the deepest failing instance location and its message,
// without the schema's resource URL.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
