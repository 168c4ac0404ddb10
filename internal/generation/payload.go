// Package generation drives one report generation job against the
// generation service: asset validation, submission, polling to a terminal
// state and collection of the generated text.
package generation

import (
	"strings"

	"github.com/sells-group/deal-report/internal/model"
)

// Item ids in creation order.
const (
	ItemReport = "report"
	ItemImages = "images"
)

// Payload is the assembled instruction payload for one evaluation.
type Payload struct {
	Role  model.Role
	Mode  model.ReportMode
	Items []Item
}

// Item is one message submitted to the generation service.
type Item struct {
	ID string
	// System is the static instruction text, sent as a cached block.
	System string
	// Context is the vehicle and enrichment data rendered by the pipeline.
	Context string
	// Untrusted is caller free text, always sent in its own block.
	Untrusted string
	// Attach asks for the validated images to be sent with this item.
	Attach bool
	// NeedsImages drops the item when no image survives validation.
	NeedsImages bool
}

// Text flattens the payload for job records and audit snapshots.
func (p *Payload) Text() string {
	var b strings.Builder
	for i, it := range p.Items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("=== ")
		b.WriteString(it.ID)
		b.WriteString(" ===\n")
		b.WriteString(it.Context)
		if it.Untrusted != "" {
			b.WriteString("\n")
			b.WriteString(it.Untrusted)
		}
	}
	return b.String()
}
