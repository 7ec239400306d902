// Package aggregate merges the page outcomes of one document into a canonical record.
package aggregate

import (
	"fmt"
	"math"
	"strings"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
)

// NotesSeparator joins notes coming from different pages.
const NotesSeparator = " | "

// Aggregate merges outcomes, given in page order, with these rules:
//   - identity fields: the first page that reports a value wins
//   - monetary fields: summed over every page that reports a number
//   - notes: "Página N: text" per page, joined with NotesSeparator
//   - items: concatenated in page order, never de-duplicated
//
// The result is successful when at least one page is. With no pages, or no successful page,
// the returned error wraps common.ErrAggregationEmpty and Record is nil.
func Aggregate(outcomes []entity.ExtractionOutcome) (entity.AggregateResult, error) {
	res := entity.AggregateResult{PagesProcessed: len(outcomes)}
	if len(outcomes) == 0 {
		return res, common.NewAppError(common.CodeAggregationEmpty, "document produced no pages", common.ErrAggregationEmpty)
	}

	rec := entity.NewEmptyRecord()
	var notes []string
	for i, out := range outcomes {
		if !out.Success || out.Data == nil {
			continue
		}
		res.PagesSuccessful++
		page := out.Data

		for _, f := range entity.IdentityFields {
			dst, src := f.Ptr(rec), *f.Ptr(page)
			if *dst == nil && src != nil && *src != "" {
				v := *src
				*dst = &v
			}
		}

		for _, f := range entity.MonetaryFields {
			if v := *f.Ptr(page); v != nil {
				sum := **f.Ptr(rec) + *v
				*f.Ptr(rec) = &sum
			}
		}

		if n := strings.TrimSpace(entity.Deref(page.Notes)); n != "" {
			notes = append(notes, fmt.Sprintf("Página %d: %s", i+1, n))
		}

		rec.Items = append(rec.Items, page.Items...)
	}

	if res.PagesSuccessful == 0 {
		return res, common.NewAppError(common.CodeAggregationEmpty,
			fmt.Sprintf("none of %d pages succeeded", len(outcomes)), common.ErrAggregationEmpty)
	}

	for _, f := range entity.MonetaryFields {
		cents := roundCents(**f.Ptr(rec))
		*f.Ptr(rec) = &cents
	}
	if len(notes) > 0 {
		joined := strings.Join(notes, NotesSeparator)
		rec.Notes = &joined
	}

	res.Success = true
	res.Record = rec
	return res, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
