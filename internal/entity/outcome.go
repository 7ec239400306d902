package entity

// ExtractionOutcome is the validated result of one page.
type ExtractionOutcome struct {
	Success bool    `json:"success"`
	Data    *Record `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
	// RawText is kept only on parse failure.
	RawText string `json:"raw_response,omitempty"`
	// Err classifies a failure (common.ErrParse, common.ErrModelCall, ...). Nil for model-reported failures.
	Err error `json:"-"`
}

// PageResult pairs a 1-based page number with its outcome.
type PageResult struct {
	Page   int               `json:"page"`
	Result ExtractionOutcome `json:"result"`
}

// AggregateResult is the merge of every page outcome of one document.
type AggregateResult struct {
	Success         bool    `json:"success"`
	PagesProcessed  int     `json:"pages_processed"`
	PagesSuccessful int     `json:"pages_successful"`
	Record          *Record `json:"data,omitempty"`
}

// DocumentResult is what the pipeline hands to the HTTP layer. Single images carry
// the bare page outcome; PDFs carry page_results.
type DocumentResult struct {
	Success         bool         `json:"success"`
	Format          string       `json:"format"`
	PagesProcessed  int          `json:"pages_processed"`
	PagesSuccessful int          `json:"pages_successful"`
	Data            *Record      `json:"data,omitempty"`
	Error           string       `json:"error,omitempty"`
	RawText         string       `json:"raw_response,omitempty"`
	PageResults     []PageResult `json:"page_results,omitempty"`
	ElapsedMS       int64        `json:"elapsed_ms"`
}

// TaxID returns the issuer tax ID of the document's record, if any.
func (d DocumentResult) TaxID() string {
	if d.Data == nil {
		return ""
	}
	return Deref(d.Data.IssuerTaxID)
}
