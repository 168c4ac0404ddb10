// Package report turns raw generated text into a validated EvaluationReport:
// section parsing, verdict extraction, money-math recomputation and
// role-exclusivity enforcement.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/roles"
)

// MalformedOutputError is returned when the generated text cannot be turned
// into a report. Raw carries the text for diagnostics.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("report: malformed generated output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// Processor validates generated output against the role rules.
type Processor struct {
	book *roles.Book
}

// NewProcessor creates a Processor.
func NewProcessor(book *roles.Book) *Processor {
	return &Processor{book: book}
}

// parsed is the mode-independent result of reading the raw text.
type parsed struct {
	sections []model.Section
	verdict  model.Verdict
	figures  cost.Figures
	warnings []string
}

// Process parses raw in the given mode and applies the role rules. hasPhotos
// says whether any image was forwarded to the generation service.
func (p *Processor) Process(raw string, mode model.ReportMode, req *model.EvaluationRequest, hasPhotos bool) (*model.EvaluationReport, error) {
	rules, err := p.book.For(req.Role)
	if err != nil {
		return nil, err
	}

	var res *parsed
	if mode == model.ReportModeStructured {
		res, err = p.parseStructured(raw)
	} else {
		mode = model.ReportModeMarkdown
		res, err = p.parseMarkdown(raw)
	}
	if err != nil {
		return nil, err
	}

	// The raw text is returned to the caller, so it gets the same line
	// filter as the section bodies.
	rawText, _ := stripForbidden(rules, raw)
	rep := &model.EvaluationReport{
		Mode:     mode,
		Role:     req.Role,
		RawText:  rawText,
		Verdict:  res.verdict,
		Warnings: res.warnings,
	}

	// The submitted asking price is authoritative over whatever the report
	// restated.
	if req.AskingPrice != nil {
		ask := decimal.NewFromFloat(*req.AskingPrice)
		if res.figures.AskingPrice != nil && !res.figures.AskingPrice.Round(2).Equal(ask.Round(2)) {
			rep.Warn(fmt.Sprintf("money math: report used asking price %s, submitted %s",
				cost.FormatUSD(*res.figures.AskingPrice), cost.FormatUSD(ask)))
		}
		res.figures.AskingPrice = &ask
	}
	if req.Role == model.RoleSeller {
		res.figures.StatedMaxPrice = nil
	}
	mm, warnings := cost.Compute(req.Role, res.figures)
	rep.RecomputedMoneyMath = mm
	rep.Warnings = append(rep.Warnings, warnings...)

	rep.Sections = p.enforce(rep, rules, res.sections, hasPhotos)
	zap.L().Debug("report: processed",
		zap.String("role", string(req.Role)),
		zap.String("mode", string(mode)),
		zap.Int("sections", len(rep.Sections)),
		zap.String("verdict", string(rep.Verdict)),
		zap.Int("warnings", len(rep.Warnings)),
	)
	return rep, nil
}

// enforce drops sections and lines the role must never see, synthesises
// sections the role must always carry, and sorts into canonical order.
func (p *Processor) enforce(rep *model.EvaluationReport, rules *roles.Rules, sections []model.Section, hasPhotos bool) []model.Section {
	out := make([]model.Section, 0, len(sections)+1)
	for _, s := range sections {
		if !rules.Allows(s.Key, rep.Verdict, hasPhotos) {
			title := s.Title
			if _, bad := rules.Forbids(title); bad {
				title = string(s.Key)
				if _, bad := rules.Forbids(title); bad {
					title = "restricted"
				}
			}
			rep.Warn(fmt.Sprintf("role: removed %q section not allowed for %s", title, rules.Label))
			continue
		}
		body, removed := stripForbidden(rules, s.Body)
		if len(removed) > 0 {
			// The warning travels with the report, so it names no term.
			rep.Warn(fmt.Sprintf("role: removed %d line(s) from %q for %s", len(removed), s.Title, rules.Label))
			zap.L().Debug("report: stripped forbidden lines",
				zap.String("section", string(s.Key)),
				zap.Strings("terms", removed),
			)
		}
		s.Body = body
		out = append(out, s)
	}

	for _, spec := range rules.Sections(hasPhotos) {
		if !rules.Requires(spec.Key) || hasSection(out, spec.Key) {
			continue
		}
		if spec.Key == model.SectionROI {
			out = append(out, model.Section{Key: spec.Key, Title: spec.Title, Body: roiBody(rep.RecomputedMoneyMath)})
			rep.Warn(fmt.Sprintf("role: %q section missing, built from recomputed money math", spec.Title))
		}
	}

	order := make(map[model.SectionKey]int)
	for i, spec := range p.book.Sections {
		order[spec.Key] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, ok := order[out[i].Key]
		if !ok {
			oi = len(order)
		}
		oj, ok := order[out[j].Key]
		if !ok {
			oj = len(order)
		}
		return oi < oj
	})
	return out
}

func stripForbidden(rules *roles.Rules, body string) (string, []string) {
	var removed []string
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if term, bad := rules.Forbids(line); bad {
			removed = append(removed, term)
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), removed
}

func hasSection(sections []model.Section, key model.SectionKey) bool {
	for _, s := range sections {
		if s.Key == key {
			return true
		}
	}
	return false
}

func roiBody(mm *model.MoneyMath) string {
	if mm == nil || mm.MaxBid == nil {
		return "Not enough figures to compute a max bid. Expected resale, asking price and repair estimate are all required."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "| Item | Amount |\n|---|---|\n")
	fmt.Fprintf(&b, "| Expected Resale | %s |\n", cost.FormatUSD(*mm.ResaleValue))
	fmt.Fprintf(&b, "| All-In | %s - %s |\n", cost.FormatUSD(mm.AllInLow), cost.FormatUSD(mm.AllInHigh))
	fmt.Fprintf(&b, "| Max Bid | %s |\n", cost.FormatUSD(*mm.MaxBid))
	profit := mm.ResaleValue.Sub(mm.AllInHigh)
	fmt.Fprintf(&b, "| Expected Profit (worst case) | %s |", cost.FormatUSD(profit))
	return b.String()
}
