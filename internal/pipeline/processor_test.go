package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
	"github.com/joseph-ayodele/nfe-ocr/internal/raster"
	"github.com/joseph-ayodele/nfe-ocr/internal/response"
)

type fakeRaster struct {
	format string
	pages  int
	err    error
}

func (f fakeRaster) Rasterize(_ context.Context, _ raster.Source) (raster.Result, error) {
	if f.err != nil {
		return raster.Result{}, f.err
	}
	res := raster.Result{Format: f.format}
	for i := 1; i <= f.pages; i++ {
		res.Pages = append(res.Pages, raster.Page{Number: i, Image: image.NewRGBA(image.Rect(0, 0, 1, 1))})
	}
	return res, nil
}

// EncodePage returns the page number as the payload so the fake client can tell pages apart.
func (f fakeRaster) EncodePage(p raster.Page) ([]byte, string, error) {
	return []byte(fmt.Sprint(p.Number)), "image/jpeg", nil
}

type scriptedClient struct {
	mu      sync.Mutex
	replies map[int]string
	fails   map[int]error
	delay   func(page int) time.Duration
	calls   []int

	inFlight, peak atomic.Int32
}

func (c *scriptedClient) Provider() string { return "fake" }

func (c *scriptedClient) Extract(ctx context.Context, img llm.Image) (string, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if c.delay != nil {
		time.Sleep(c.delay(img.Page))
	}
	c.mu.Lock()
	c.calls = append(c.calls, img.Page)
	c.mu.Unlock()
	if err := c.fails[img.Page]; err != nil {
		return "", err
	}
	return c.replies[img.Page], nil
}

func (c *scriptedClient) ExtractText(_ context.Context, img llm.Image) (string, error) {
	if err := c.fails[img.Page]; err != nil {
		return "", err
	}
	return fmt.Sprintf("texto %d", img.Page), nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newProcessor(r Rasterizer, c llm.Client, opts ...Option) *Processor {
	return NewProcessor(r, c, response.NewValidator(discard()), discard(), opts...)
}

func page(number, taxID string, total float64, notes string) string {
	return fmt.Sprintf(`{"success":true,"error":null,"data":{"numero_nota":%q,"cnpj_emissor":%q,"valor_total":%v,"observacoes":%q,"items":[{"descricao":"item %s","valor_total":%v}]}}`,
		number, taxID, total, notes, number, total)
}

func TestProcess_PDFAggregatesPagesInOrder(t *testing.T) {
	client := &scriptedClient{
		replies: map[int]string{
			1: page("1", "12345678000199", 100, "primeira"),
			2: "```json\n" + page("", "99999999000199", 50.25, "") + "\n```",
			3: "not json",
		},
	}
	p := newProcessor(fakeRaster{format: constants.PDF, pages: 3}, client)

	res, err := p.Process(context.Background(), Document{Filename: "nota.pdf"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, constants.PDF, res.Format)
	assert.Equal(t, 3, res.PagesProcessed)
	assert.Equal(t, 2, res.PagesSuccessful)
	require.Len(t, res.PageResults, 3)
	for i, pr := range res.PageResults {
		assert.Equal(t, i+1, pr.Page)
	}
	assert.False(t, res.PageResults[2].Result.Success)
	assert.Equal(t, "not json", res.PageResults[2].Result.RawText)
	assert.ErrorIs(t, res.PageResults[2].Result.Err, common.ErrParse)
	assert.NoError(t, res.PageResults[0].Result.Err)

	require.NotNil(t, res.Data)
	assert.Equal(t, "12345678000199", entity.Deref(res.Data.IssuerTaxID))
	assert.Equal(t, "12345678000199", res.TaxID())
	assert.InDelta(t, 150.25, *res.Data.TotalValue, 1e-9)
	assert.Equal(t, "Página 1: primeira", entity.Deref(res.Data.Notes))
	require.Len(t, res.Data.Items, 2)
	assert.Equal(t, "item 1", entity.Deref(res.Data.Items[0].Description))
}

func TestProcess_SingleImageReturnsBarePage(t *testing.T) {
	client := &scriptedClient{replies: map[int]string{1: page("7", "12345678000199", 10, "")}}
	p := newProcessor(fakeRaster{format: constants.IMAGE, pages: 1}, client)

	res, err := p.Process(context.Background(), Document{Filename: "nota.jpg"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.PageResults)
	require.NotNil(t, res.Data)
	assert.Equal(t, "7", entity.Deref(res.Data.DocumentNumber))
	assert.Nil(t, res.Data.ICMSValue)
}

func TestProcess_ModelFailureOnEveryPage(t *testing.T) {
	boom := common.ModelCallError("gemini generate", errors.New("quota"))
	client := &scriptedClient{fails: map[int]error{1: boom, 2: boom}}
	p := newProcessor(fakeRaster{format: constants.PDF, pages: 2}, client)

	res, err := p.Process(context.Background(), Document{Filename: "nota.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAggregationEmpty)
	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	assert.Equal(t, "no page could be extracted (0/2)", res.Error)
	require.Len(t, res.PageResults, 2)
	assert.Contains(t, res.PageResults[0].Result.Error, "model call:")
	assert.Contains(t, res.PageResults[0].Result.Error, "quota")
	assert.ErrorIs(t, res.PageResults[1].Result.Err, common.ErrModelCall)
}

func TestProcess_RasterizationFailure(t *testing.T) {
	rerr := common.RasterizationError("pdftoppm failed", errors.New("exit 1"))
	p := newProcessor(fakeRaster{err: rerr}, &scriptedClient{})

	res, err := p.Process(context.Background(), Document{Filename: "broken.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRasterization)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rasterization: pdftoppm failed")
}

func TestProcess_ParallelKeepsPageOrder(t *testing.T) {
	replies := map[int]string{}
	for i := 1; i <= 6; i++ {
		replies[i] = page(fmt.Sprint(i), "", float64(i), fmt.Sprint("n", i))
	}
	client := &scriptedClient{
		replies: replies,
		// later pages finish first
		delay: func(page int) time.Duration { return time.Duration(7-page) * 5 * time.Millisecond },
	}
	p := newProcessor(fakeRaster{format: constants.PDF, pages: 6}, client, WithParallelism(3))

	res, err := p.Process(context.Background(), Document{Filename: "nota.pdf"})
	require.NoError(t, err)
	require.Len(t, res.Data.Items, 6)
	for i, it := range res.Data.Items {
		assert.Equal(t, fmt.Sprintf("item %d", i+1), entity.Deref(it.Description))
	}
	assert.Equal(t, "1", entity.Deref(res.Data.DocumentNumber))
	assert.Equal(t, "Página 1: n1 | Página 2: n2 | Página 3: n3 | Página 4: n4 | Página 5: n5 | Página 6: n6", entity.Deref(res.Data.Notes))
	assert.LessOrEqual(t, client.peak.Load(), int32(3))
}

func TestExtractText_PDFPagesAreHeaded(t *testing.T) {
	client := &scriptedClient{fails: map[int]error{2: errors.New("timeout")}}
	p := newProcessor(fakeRaster{format: constants.PDF, pages: 3}, client)

	res, err := p.ExtractText(context.Background(), Document{Filename: "nota.pdf"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "=== PÁGINA 1 ===\ntexto 1\n\n=== PÁGINA 3 ===\ntexto 3\n", res.Text)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "página 2")
}

func TestExtractText_ImageIsBare(t *testing.T) {
	p := newProcessor(fakeRaster{format: constants.IMAGE, pages: 1}, &scriptedClient{})

	res, err := p.ExtractText(context.Background(), Document{Filename: "nota.png"})
	require.NoError(t, err)
	assert.Equal(t, "texto 1", res.Text)
}
