package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/internal/generation"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/roles"
)

const notesTag = "untrusted_user_notes"

// notesTagRe matches any opening or closing notes tag so caller text cannot
// end the untrusted block early.
var notesTagRe = regexp.MustCompile(`(?i)<\s*/?\s*` + notesTag + `[^>]*>`)

// Assembler turns a resolved identity and its enrichment into the
// instruction payload for one role and output mode.
type Assembler struct {
	book *roles.Book
	mode model.ReportMode
}

// NewAssembler creates an Assembler. An empty mode means markdown.
func NewAssembler(book *roles.Book, mode model.ReportMode) *Assembler {
	if mode == "" {
		mode = model.ReportModeMarkdown
	}
	return &Assembler{book: book, mode: mode}
}

// Mode returns the output mode payloads are assembled for.
func (a *Assembler) Mode() model.ReportMode { return a.mode }

// Assemble builds the payload for the assets that actually loaded. Static
// instructions depend only on role, mode and whether any image is attached;
// caller free text always travels in its own untrusted block.
func (a *Assembler) Assemble(req *model.EvaluationRequest, id model.VehicleIdentity, bundle *model.EnrichmentBundle, assets []generation.Asset) (*generation.Payload, error) {
	rules, err := a.book.For(req.Role)
	if err != nil {
		return nil, err
	}
	hasPhotos := len(assets) > 0

	context := renderContext(req, id, bundle, len(assets))
	notes := wrapNotes(req.ConditionNotes)
	p := &generation.Payload{Role: req.Role, Mode: a.mode}

	if a.mode == model.ReportModeStructured {
		p.Items = append(p.Items, generation.Item{
			ID:        generation.ItemReport,
			System:    rules.Instructions(a.mode, hasPhotos),
			Context:   context,
			Untrusted: notes,
			Attach:    hasPhotos,
		})
		return p, nil
	}

	// Markdown reports ask for the image section in a separate item so the
	// main report can run without the photos.
	p.Items = append(p.Items, generation.Item{
		ID:        generation.ItemReport,
		System:    rules.Instructions(a.mode, false),
		Context:   context,
		Untrusted: notes,
	})
	if hasPhotos {
		p.Items = append(p.Items, generation.Item{
			ID:          generation.ItemImages,
			System:      a.imageInstructions(rules),
			Context:     fmt.Sprintf("Role: %s\nVehicle: %s\n", rules.Label, labelOrUnknown(id)),
			Untrusted:   notes,
			Attach:      true,
			NeedsImages: true,
		})
	}
	return p, nil
}

func (a *Assembler) imageInstructions(rules *roles.Rules) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.book.Preamble))
	fmt.Fprintf(&b, "\n\n# Role: %s\n%s\n", rules.Label, strings.TrimSpace(rules.Framing))
	spec, _ := a.book.Spec(model.SectionImageIntel)
	title := spec.Title
	if title == "" {
		title = "Image Intelligence"
	}
	fmt.Fprintf(&b, "\n# Output format\nRespond with a single level-2 heading \"## %s\" followed by your findings. Do not write any other section and do not give a verdict.\n", title)
	fmt.Fprintf(&b, "\n# %s\n%s\n", title, strings.TrimSpace(spec.Instruction))
	return b.String()
}

func labelOrUnknown(id model.VehicleIdentity) string {
	if l := id.Label(); l != "" {
		return l
	}
	return "unknown vehicle"
}

func renderContext(req *model.EvaluationRequest, id model.VehicleIdentity, bundle *model.EnrichmentBundle, attached int) string {
	var b strings.Builder

	b.WriteString("## Submission\n")
	fmt.Fprintf(&b, "Role: %s\n", req.Role)
	if req.RepairSkill != "" {
		fmt.Fprintf(&b, "Repair skill: %s\n", req.RepairSkill)
	}
	fmt.Fprintf(&b, "Vehicle: %s\n", labelOrUnknown(id))
	fmt.Fprintf(&b, "Year: %s (%s)\n", orDash(id.Year), id.YearSource)
	fmt.Fprintf(&b, "Make: %s (%s)\n", orDash(id.Make), id.MakeSource)
	fmt.Fprintf(&b, "Model: %s (%s)\n", orDash(id.Model), id.ModelSource)
	if len(id.Decoded) > 0 {
		keys := make([]string, 0, len(id.Decoded))
		for k := range id.Decoded {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "Decoded %s: %s\n", k, id.Decoded[k])
		}
	}
	if req.VIN != "" {
		fmt.Fprintf(&b, "VIN: %s\n", strings.ToUpper(strings.TrimSpace(req.VIN)))
	}
	if req.Zip != "" {
		fmt.Fprintf(&b, "Zip: %s\n", req.Zip)
	}
	if req.AskingPrice != nil {
		fmt.Fprintf(&b, "Asking price: %s\n", cost.FormatUSD(decimal.NewFromFloat(*req.AskingPrice)))
	} else {
		b.WriteString("Asking price: not provided\n")
	}
	fmt.Fprintf(&b, "Photos attached: %d\n", attached)

	b.WriteString("\n## Recalls\n")
	switch {
	case !bundle.Recalls.Available:
		b.WriteString(model.NoRecallData + "\n")
	case bundle.Recalls.Count == 0:
		b.WriteString("No recalls on file for this vehicle.\n")
	default:
		fmt.Fprintf(&b, "%d recall campaign(s) on file:\n", bundle.Recalls.Count)
		for _, s := range bundle.Recalls.Summaries {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	writeSnippets(&b, "Retail comps", bundle.Retail)
	writeSnippets(&b, "Auction comps", bundle.Auction)
	if req.VIN != "" {
		writeSnippets(&b, "VIN history", bundle.VIN)
	}

	if l := bundle.Listing; l != nil {
		b.WriteString("\n## Linked listing\n")
		fmt.Fprintf(&b, "URL: %s\n", l.URL)
		for _, kv := range [][2]string{{"Title", l.Title}, {"Price", l.Price}, {"Mileage", l.Mileage}, {"Condition", l.Condition}} {
			if kv[1] != "" {
				fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
			}
		}
	}

	if gaps := dataGaps(bundle); len(gaps) > 0 {
		b.WriteString("\n## Data gaps\n")
		for _, g := range gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	return b.String()
}

func writeSnippets(b *strings.Builder, title string, snippets []model.Snippet) {
	fmt.Fprintf(b, "\n## %s\n", title)
	if len(snippets) == 0 {
		b.WriteString("No results.\n")
		return
	}
	for _, s := range snippets {
		fmt.Fprintf(b, "- %s", s.Title)
		if s.Snippet != "" {
			fmt.Fprintf(b, ": %s", s.Snippet)
		}
		if s.Link != "" {
			fmt.Fprintf(b, " (%s)", s.Link)
		}
		b.WriteByte('\n')
	}
}

// dataGaps lists the sources that produced nothing, in name order.
func dataGaps(bundle *model.EnrichmentBundle) []string {
	names := make([]string, 0, len(bundle.Sources))
	for name, rep := range bundle.Sources {
		if rep.Status == model.SourceOK || rep.Status == model.SourceSkipped {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, fmt.Sprintf("%s: %s", n, bundle.Sources[n].Status))
	}
	return out
}

func wrapNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ""
	}
	notes = notesTagRe.ReplaceAllStringFunc(notes, func(tag string) string {
		return strings.NewReplacer("<", "&lt;", ">", "&gt;").Replace(tag)
	})
	return "<" + notesTag + ">\n" + notes + "\n</" + notesTag + ">"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
