package tables

import (
	"fmt"
	"sync"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
)

// processIDs hands out OCR_<yyyymmdd_hhmmss> ids that strictly increase within the process.
// Ids falling in the same second as (or before) the previous one reuse its stem with a _N suffix.
type processIDs struct {
	mu   sync.Mutex
	stem string
	n    int
}

func (p *processIDs) Next(t time.Time) string {
	stem := "OCR_" + t.Format(constants.ProcessIDLayout)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stem != "" && stem <= p.stem {
		p.n++
		return fmt.Sprintf("%s_%d", p.stem, p.n)
	}
	p.stem, p.n = stem, 0
	return stem
}
