package response

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
)

// DecodeRecord maps a loosely typed data object onto a Record. Monetary values that cannot be
// read as numbers become null and are reported in coerced; nothing here fails the page.
func DecodeRecord(data map[string]any) (*entity.Record, []string) {
	rec := &entity.Record{Items: []entity.Item{}}
	var coerced []string

	for _, f := range entity.IdentityFields {
		*f.Ptr(rec) = toText(data[f.Key])
	}
	*entity.NotesField.Ptr(rec) = toText(data[entity.NotesField.Key])

	for _, f := range entity.MonetaryFields {
		n, ok := toNumber(data[f.Key])
		if !ok {
			coerced = append(coerced, f.Key)
		}
		*f.Ptr(rec) = n
	}

	if list, ok := data["items"].([]any); ok {
		for i, raw := range list {
			obj, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			var it entity.Item
			for _, f := range entity.ItemTextFields {
				*f.Ptr(&it) = toText(obj[f.Key])
			}
			for _, f := range entity.ItemMonetaryFields {
				n, ok := toNumber(obj[f.Key])
				if !ok {
					coerced = append(coerced, "items["+strconv.Itoa(i)+"]."+f.Key)
				}
				*f.Ptr(&it) = n
			}
			rec.Items = append(rec.Items, it)
		}
	}
	return rec, coerced
}

// toText keeps strings and renders scalars; empty strings and the literal "null" are null.
func toText(v any) *string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
		return &s
	case json.Number:
		s := t.String()
		return &s
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	default:
		return nil
	}
}

// toNumber reports ok=false only when a present value could not be converted.
func toNumber(v any) (*float64, bool) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case nil:
		return nil, true
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return nil, true
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return nil, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return &f, true
}
