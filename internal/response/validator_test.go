package response

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
)

func newValidator() *Validator {
	return NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const sample = `{
  "success": true,
  "data": {
    "numero_nota": "000123",
    "serie": 1,
    "cnpj_emissor": "12345678000199",
    "razao_social_emissor": "ACME Comércio Ltda",
    "data_vencimento": null,
    "valor_total": "1234.56",
    "valor_icms": 123.45,
    "valor_ipi": "1.234,56",
    "valor_pis": null,
    "valor_frete": "",
    "observacoes": "",
    "items": [
      {"codigo": "A1", "descricao": "Parafuso", "quantidade": 10, "valor_unitario": "2.50", "valor_total": 25, "valor_icms_item": "n/a"},
      "not an item"
    ]
  }
}`

func TestParse_CoercesFields(t *testing.T) {
	out := newValidator().Parse(sample)
	require.True(t, out.Success, out.Error)
	require.NotNil(t, out.Data)
	rec := out.Data

	assert.Equal(t, "000123", entity.Deref(rec.DocumentNumber))
	assert.Equal(t, "1", entity.Deref(rec.Series))
	assert.Nil(t, rec.DueDate)
	assert.Nil(t, rec.Notes)

	require.NotNil(t, rec.TotalValue)
	assert.InDelta(t, 1234.56, *rec.TotalValue, 1e-9)
	assert.InDelta(t, 123.45, *rec.ICMSValue, 1e-9)
	assert.Nil(t, rec.IPIValue, "unparseable amount becomes null")
	assert.Nil(t, rec.PISValue)
	assert.Nil(t, rec.Freight)
	assert.Nil(t, rec.Discount, "absent amount stays null")

	require.Len(t, rec.Items, 1)
	it := rec.Items[0]
	assert.Equal(t, "10", entity.Deref(it.Quantity))
	assert.InDelta(t, 2.5, *it.UnitPrice, 1e-9)
	assert.InDelta(t, 25.0, *it.LineTotal, 1e-9)
	assert.Nil(t, it.ICMSValue)
	assert.Empty(t, out.RawText)
}

func TestParse_MarkdownFenceMatchesBareJSON(t *testing.T) {
	v := newValidator()
	bare := v.Parse(sample)
	fenced := v.Parse("```json\n" + sample + "\n```")
	generic := v.Parse("```\n" + sample + "\n```")
	assert.Equal(t, bare, fenced)
	assert.Equal(t, bare, generic)
}

func TestParse_Idempotent(t *testing.T) {
	v := newValidator()
	first := v.Parse(sample)
	require.True(t, first.Success)

	b, err := json.Marshal(first)
	require.NoError(t, err)
	second := v.Parse(string(b))
	assert.Equal(t, first, second)
}

func TestParse_NullMonetaryRoundTrip(t *testing.T) {
	v := newValidator()
	rec := entity.Record{Items: []entity.Item{}}
	b, err := json.Marshal(entity.ExtractionOutcome{Success: true, Data: &rec})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"valor_total":null`)

	out := v.Parse(string(b))
	require.True(t, out.Success)
	for _, f := range entity.MonetaryFields {
		assert.Nil(t, *f.Ptr(out.Data), f.Key)
	}
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  string
		keepsRaw bool
	}{
		{"not json", "Desculpe, não consigo ler a imagem.", "parse error: ", true},
		{"array", `[{"success":true}]`, "parse error: top-level value is array", true},
		{"string", `"ok"`, "parse error: top-level value is string", true},
		{"data not an object", `{"success":true,"data":"nota 123"}`, "parse error: envelope does not match schema: /data: ", true},
		{"model failure", `{"success":false,"error":"imagem ilegível"}`, "imagem ilegível", false},
		{"model failure without reason", `{"success":false}`, "model reported failure without a reason", false},
		{"success without data", `{"success":true}`, "success reported without data", false},
		{"success with null data", `{"success":true,"data":null}`, "success reported without data", false},
		{"empty", "", "parse error: ", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := newValidator().Parse(tc.raw)
			assert.False(t, out.Success)
			assert.Nil(t, out.Data)
			assert.Contains(t, out.Error, tc.wantErr)
			assert.NotContains(t, out.Error, "://")
			if tc.keepsRaw {
				assert.Equal(t, tc.raw, out.RawText)
				assert.ErrorIs(t, out.Err, common.ErrParse)
				assert.Equal(t, common.CodeParse, common.CodeOf(out.Err))
			} else {
				assert.Empty(t, out.RawText)
				assert.NoError(t, out.Err)
			}
		})
	}
}

func TestParse_InfersSuccessFromData(t *testing.T) {
	v := newValidator()

	out := v.Parse(`{"data":{"numero_nota":"9"}}`)
	require.True(t, out.Success)
	assert.Equal(t, "9", entity.Deref(out.Data.DocumentNumber))

	out = v.Parse(`{"data":null}`)
	assert.False(t, out.Success)
}

func TestParse_ToleratesNoisyFlags(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		success bool
		wantErr string
	}{
		{"numeric error", `{"success":true,"error":0,"data":{"valor_total":10}}`, true, ""},
		{"object error", `{"success":true,"error":{},"data":{"valor_total":10}}`, true, ""},
		{"string true", `{"success":"true","data":{"valor_total":10}}`, true, ""},
		{"numeric true", `{"success":1,"data":{"valor_total":10}}`, true, ""},
		{"unreadable flag falls back to data", `{"success":"sim","data":{"valor_total":10}}`, true, ""},
		{"null flag falls back to data", `{"success":null,"error":null,"data":{"valor_total":10}}`, true, ""},
		{"string false", `{"success":"false","error":"sem nota","data":{"valor_total":10}}`, false, "sem nota"},
		{"numeric false without reason", `{"success":0,"error":7}`, false, "model reported failure without a reason"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := newValidator().Parse(tc.raw)
			assert.Equal(t, tc.success, out.Success, out.Error)
			assert.NoError(t, out.Err)
			if tc.success {
				require.NotNil(t, out.Data)
				assert.InDelta(t, 10.0, *out.Data.TotalValue, 1e-9)
			} else {
				assert.Equal(t, tc.wantErr, out.Error)
			}
		})
	}
}
