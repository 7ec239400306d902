// Package llm defines the extraction contract with the vision model and the clients that honour it.
package llm

import "context"

// Image is one rendered page sent to the model.
type Image struct {
	Page     int
	Data     []byte
	MIMEType string
}

// Extractor returns the model's raw text for one page. Calls are stateless: nothing from
// a previous page is carried into the next one. Transport, auth and quota failures are
// returned as model-call errors and are not retried here.
type Extractor interface {
	Extract(ctx context.Context, img Image) (string, error)
}

// TextExtractor transcribes the visible text of one page.
type TextExtractor interface {
	ExtractText(ctx context.Context, img Image) (string, error)
}

// Client is a provider implementing both contracts.
type Client interface {
	Extractor
	TextExtractor
	Provider() string
}
