package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-report/internal/model"
)

type structuredSection struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type structuredReport struct {
	Sections  []structuredSection `json:"sections"`
	Verdict   string              `json:"verdict"`
	MoneyMath *figuresJSON        `json:"money_math"`
}

// parseStructured decodes the single JSON object strictly. Any decode or
// shape failure is a MalformedOutputError.
func (p *Processor) parseStructured(raw string) (*parsed, error) {
	var sr structuredReport
	dec := json.NewDecoder(bytes.NewReader([]byte(cleanJSON(raw))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sr); err != nil {
		return nil, &MalformedOutputError{Raw: raw, Err: eris.Wrap(err, "decode structured report")}
	}
	if dec.More() {
		return nil, &MalformedOutputError{Raw: raw, Err: eris.New("trailing data after structured report")}
	}
	if len(sr.Sections) == 0 {
		return nil, &MalformedOutputError{Raw: raw, Err: eris.New("structured report has no sections")}
	}
	verdict, ok := model.ParseVerdict(strings.TrimSpace(sr.Verdict))
	if !ok {
		return nil, &MalformedOutputError{Raw: raw, Err: eris.Errorf("invalid verdict %q", sr.Verdict)}
	}

	res := &parsed{verdict: verdict}
	index := make(map[model.SectionKey]int)
	for _, s := range sr.Sections {
		key, ok := p.sectionKey(s)
		if !ok {
			res.warnings = append(res.warnings, fmt.Sprintf("report: dropped unknown section %q", s.Key))
			continue
		}
		body := strings.TrimSpace(s.Body)
		if i, seen := index[key]; seen {
			res.sections[i].Body = strings.TrimSpace(res.sections[i].Body + "\n\n" + body)
			continue
		}
		spec, _ := p.book.Spec(key)
		index[key] = len(res.sections)
		res.sections = append(res.sections, model.Section{Key: key, Title: spec.Title, Body: body})
	}

	if sr.MoneyMath != nil {
		res.figures = sr.MoneyMath.figures()
	} else {
		res.warnings = append(res.warnings, "money math: figures missing from report")
		if i, ok := index[model.SectionMoneyMath]; ok {
			tableFigures(res.sections[i].Body, &res.figures)
		}
	}
	return res, nil
}

func (p *Processor) sectionKey(s structuredSection) (model.SectionKey, bool) {
	if _, ok := p.book.Spec(model.SectionKey(s.Key)); ok {
		return model.SectionKey(s.Key), true
	}
	if k, ok := p.book.KeyForTitle(s.Key); ok {
		return k, true
	}
	return p.book.KeyForTitle(s.Title)
}

// cleanJSON extracts a JSON object from text that may carry code fences or
// stray prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
