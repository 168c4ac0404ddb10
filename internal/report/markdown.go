package report

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/internal/model"
)

var (
	headingRe = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	boldRe    = regexp.MustCompile(`^\s*\*\*(.+?)\*\*\s*:?\s*$`)
	verdictRe = regexp.MustCompile(`(?i)\bverdict\b\**\s*[:\-]\s*\**\s*(talk|walk|run)\b`)
	fenceRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

// figuresJSON is the figure block the generation service is asked to emit.
// Unknown figures arrive as null.
type figuresJSON struct {
	AskingPrice   *decimal.Decimal `json:"asking_price"`
	RepairsLow    *decimal.Decimal `json:"repairs_low"`
	RepairsHigh   *decimal.Decimal `json:"repairs_high"`
	Fees          *decimal.Decimal `json:"fees"`
	MarketValue   *decimal.Decimal `json:"market_value"`
	MaxPriceToPay *decimal.Decimal `json:"max_price_to_pay"`
	ResaleValue   *decimal.Decimal `json:"resale_value,omitempty"`
	MaxBid        *decimal.Decimal `json:"max_bid,omitempty"`
}

func (f *figuresJSON) figures() cost.Figures {
	out := cost.Figures{
		AskingPrice:    f.AskingPrice,
		RepairsLow:     f.RepairsLow,
		RepairsHigh:    f.RepairsHigh,
		Fees:           f.Fees,
		MarketValue:    f.MarketValue,
		StatedMaxPrice: f.MaxPriceToPay,
	}
	if out.MarketValue == nil {
		out.MarketValue = f.ResaleValue
	}
	if out.StatedMaxPrice == nil {
		out.StatedMaxPrice = f.MaxBid
	}
	return out
}

// parseMarkdown splits free-form output into known sections by heading.
func (p *Processor) parseMarkdown(raw string) (*parsed, error) {
	res := &parsed{}
	index := make(map[model.SectionKey]int)
	current := -1

	for _, line := range strings.Split(raw, "\n") {
		if key, title, ok := p.heading(line); ok {
			if i, seen := index[key]; seen {
				current = i
				continue
			}
			res.sections = append(res.sections, model.Section{Key: key, Title: title})
			current = len(res.sections) - 1
			index[key] = current
			continue
		}
		if current < 0 {
			continue
		}
		s := &res.sections[current]
		if s.Body != "" {
			s.Body += "\n"
		}
		s.Body += line
	}
	if len(res.sections) == 0 {
		return nil, &MalformedOutputError{Raw: raw, Err: eris.New("no recognizable report sections")}
	}
	for i := range res.sections {
		res.sections[i].Body = strings.TrimSpace(res.sections[i].Body)
	}

	res.verdict, res.warnings = findVerdict(raw)

	if i, ok := index[model.SectionMoneyMath]; ok {
		body, f, warns := moneyMathFigures(res.sections[i].Body)
		res.sections[i].Body = body
		res.figures = f
		res.warnings = append(res.warnings, warns...)
	} else {
		res.warnings = append(res.warnings, "money math: section missing from report")
	}
	if i, ok := index[model.SectionROI]; ok {
		tableFigures(res.sections[i].Body, &res.figures)
	}
	return res, nil
}

// heading recognises a Markdown heading or a bold-only line naming a known
// section.
func (p *Processor) heading(line string) (model.SectionKey, string, bool) {
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		m = boldRe.FindStringSubmatch(line)
	}
	if m == nil {
		return "", "", false
	}
	text := strings.Trim(m[1], "*_: ")
	key, ok := p.book.KeyForTitle(text)
	if !ok {
		return "", "", false
	}
	spec, _ := p.book.Spec(key)
	return key, spec.Title, true
}

// findVerdict takes the last verdict line. Disagreeing lines are reported.
func findVerdict(raw string) (model.Verdict, []string) {
	matches := verdictRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return "", []string{"verdict: no verdict line found"}
	}
	var last model.Verdict
	distinct := make(map[model.Verdict]bool)
	for _, m := range matches {
		v, _ := model.ParseVerdict(strings.ToLower(m[1]))
		distinct[v] = true
		last = v
	}
	if len(distinct) > 1 {
		return last, []string{fmt.Sprintf("verdict: conflicting verdict lines, using the last (%s)", last)}
	}
	return last, nil
}

// moneyMathFigures reads the fenced figure block, falling back to the table
// rows, and returns the body with the block removed.
func moneyMathFigures(body string) (string, cost.Figures, []string) {
	var warnings []string
	if m := fenceRe.FindStringSubmatchIndex(body); m != nil {
		var fj figuresJSON
		err := json.Unmarshal([]byte(body[m[2]:m[3]]), &fj)
		stripped := strings.TrimSpace(body[:m[0]] + body[m[1]:])
		if err == nil {
			return stripped, fj.figures(), nil
		}
		warnings = append(warnings, "money math: figure block unreadable, using table rows")
		body = stripped
	}
	var f cost.Figures
	tableFigures(body, &f)
	return body, f, warnings
}

// tableFigures fills blank figures from "| Label | $1,234 |" or
// "Label: $1,234" rows.
func tableFigures(body string, f *cost.Figures) {
	for _, line := range strings.Split(body, "\n") {
		label, value, ok := splitRow(line)
		if !ok {
			continue
		}
		label = strings.ToLower(label)
		switch {
		case strings.Contains(label, "all-in") || strings.Contains(label, "all in") ||
			strings.Contains(label, "savings") || strings.Contains(label, "profit") ||
			strings.Contains(label, "listing"):
			// Derived rows are recomputed, never read.
		case strings.Contains(label, "asking"):
			setIfNil(&f.AskingPrice, value)
		case strings.Contains(label, "repair"):
			if f.RepairsLow == nil && f.RepairsHigh == nil {
				if lo, hi, ok := cost.ParseRange(value); ok {
					f.RepairsLow, f.RepairsHigh = &lo, &hi
				}
			}
		case strings.Contains(label, "fee"):
			setIfNil(&f.Fees, value)
		case strings.Contains(label, "max price") || strings.Contains(label, "max bid"):
			setIfNil(&f.StatedMaxPrice, value)
		case strings.Contains(label, "resale") || strings.Contains(label, "market value") ||
			strings.Contains(label, "retail value"):
			setIfNil(&f.MarketValue, value)
		}
	}
}

func splitRow(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "|") {
		var cells []string
		for _, c := range strings.Split(strings.Trim(line, "|"), "|") {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) < 2 || strings.Trim(cells[0], "-: ") == "" {
			return "", "", false
		}
		return strings.Trim(cells[0], "* "), cells[1], true
	}
	line = strings.TrimLeft(line, "-* ")
	label, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.Trim(label, "* "), value, true
}

func setIfNil(dst **decimal.Decimal, value string) {
	if *dst != nil {
		return
	}
	if d, ok := cost.ParseAmount(value); ok {
		*dst = &d
	}
}
