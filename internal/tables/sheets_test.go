package tables

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeSheets serves the handful of Sheets v4 REST calls SheetsStore makes.
type fakeSheets struct {
	mu     sync.Mutex
	order  []string
	sheets map[string][][]any
	adds   int
}

func titleOf(rng string) string {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[:i]
	}
	rng = strings.TrimSuffix(strings.TrimPrefix(rng, "'"), "'")
	return strings.ReplaceAll(rng, "''", "'")
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rest := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sheet-id")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		type props struct {
			Title string `json:"title"`
		}
		type sheet struct {
			Properties props `json:"properties"`
		}
		out := struct {
			Sheets []sheet `json:"sheets"`
		}{}
		for _, t := range f.order {
			out.Sheets = append(out.Sheets, sheet{Properties: props{Title: t}})
		}
		_ = json.NewEncoder(w).Encode(out)

	case rest == ":batchUpdate":
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			t := rq.AddSheet.Properties.Title
			f.order = append(f.order, t)
			f.sheets[t] = nil
			f.adds++
		}
		_, _ = w.Write([]byte(`{}`))

	case strings.HasPrefix(rest, "/values/"):
		rng := strings.TrimPrefix(rest, "/values/")
		var body struct {
			Values [][]any `json:"values"`
		}
		switch {
		case strings.HasSuffix(rng, ":append"):
			_ = json.NewDecoder(r.Body).Decode(&body)
			t := titleOf(strings.TrimSuffix(rng, ":append"))
			f.sheets[t] = append(f.sheets[t], body.Values...)
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodPut:
			_ = json.NewDecoder(r.Body).Decode(&body)
			t := titleOf(rng)
			if len(f.sheets[t]) == 0 {
				f.sheets[t] = body.Values
			} else {
				f.sheets[t][0] = body.Values[0]
			}
			_, _ = w.Write([]byte(`{}`))
		default:
			vals := f.sheets[titleOf(rng)]
			if strings.HasSuffix(rng, "!1:1") && len(vals) > 1 {
				vals = vals[:1]
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"values": vals})
		}

	default:
		http.NotFound(w, r)
	}
}

func newFakeSheets(t *testing.T) (*SheetsStore, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{sheets: map[string][][]any{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewSheets(context.Background(), "sheet-id", discard(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return s, fake
}

func TestNewSheets_RequiresID(t *testing.T) {
	_, err := NewSheets(context.Background(), "", discard(), option.WithoutAuthentication())
	require.Error(t, err)
}

func TestSheetsStore_EnsureAppendRows(t *testing.T) {
	s, fake := newFakeSheets(t)
	ctx := context.Background()

	created, err := s.EnsureTable(ctx, "Resumo", []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureTable(ctx, "Resumo", []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, fake.adds)

	require.NoError(t, s.Append(ctx, "Resumo", [][]string{{"1", "2"}}))
	require.NoError(t, s.Append(ctx, "Resumo", [][]string{{"3", "4"}}))

	header, rows, err := s.Rows(ctx, "Resumo")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, header)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, rows)

	names, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Resumo"}, names)
}

func TestSheetsStore_QuotedTitles(t *testing.T) {
	s, fake := newFakeSheets(t)
	ctx := context.Background()

	name := "CNPJ_12345678_D'Ávila_Ltda"
	_, err := s.EnsureTable(ctx, name, []string{"h"})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, name, [][]string{{"v"}}))
	assert.Len(t, fake.sheets[name], 2)
}

func TestSheetsStore_WidensShortHeader(t *testing.T) {
	s, fake := newFakeSheets(t)
	ctx := context.Background()
	fake.order = []string{"Itens"}
	fake.sheets["Itens"] = [][]any{{"a"}}

	created, err := s.EnsureTable(ctx, "Itens", []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []any{"a", "b"}, fake.sheets["Itens"][0])
}

func TestSheetsStore_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Quota exceeded for quota metric 'Write requests'"}}`))
	}))
	defer srv.Close()

	s, err := NewSheets(context.Background(), "sheet-id", discard(),
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	err = s.Append(context.Background(), "Resumo", [][]string{{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Quota exceeded")
}
