package roles

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/deal-report/internal/model"
)

// Rules is the strategy for one role.
type Rules struct {
	Role           model.Role `yaml:"-"`
	Label          string     `yaml:"label"`
	Framing        string     `yaml:"framing"`
	MoneyMath      string     `yaml:"money_math"`
	ForbiddenTerms []string   `yaml:"forbidden_terms"`

	book      *Book
	forbidden []*regexp.Regexp
}

// Sections returns the ordered sections requested from the generation
// service for this role. The image section is included only with photos.
func (r *Rules) Sections(hasPhotos bool) []SectionSpec {
	out := make([]SectionSpec, 0, len(r.book.Sections))
	for _, s := range r.book.Sections {
		if !s.appliesTo(r.Role) {
			continue
		}
		if s.When == WithPhotos && !hasPhotos {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Allows reports whether a section may appear in a final report for this
// role given the verdict and whether photos were attached.
func (r *Rules) Allows(key model.SectionKey, verdict model.Verdict, hasPhotos bool) bool {
	spec, ok := r.book.Spec(key)
	if !ok {
		return true
	}
	if !spec.appliesTo(r.Role) {
		return false
	}
	switch spec.When {
	case WithPhotos:
		return hasPhotos
	case OnWalkOrRun:
		return verdict == model.VerdictWalk || verdict == model.VerdictRun
	}
	return true
}

// Requires reports whether the role must always carry the section.
func (r *Rules) Requires(key model.SectionKey) bool {
	spec, ok := r.book.Spec(key)
	return ok && len(spec.Roles) > 0 && spec.When == Always && spec.appliesTo(r.Role)
}

// Forbids reports whether text contains a figure the role must never see,
// returning the offending term.
func (r *Rules) Forbids(text string) (string, bool) {
	for i, re := range r.forbidden {
		if re.MatchString(text) {
			return r.ForbiddenTerms[i], true
		}
	}
	return "", false
}

// Instructions renders the static instruction text for this role and output
// mode. The result depends only on its arguments so it can be cached by the
// generation service.
func (r *Rules) Instructions(mode model.ReportMode, hasPhotos bool) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.book.Preamble))
	fmt.Fprintf(&b, "\n\n# Role: %s\n%s\n", r.Label, strings.TrimSpace(r.Framing))
	fmt.Fprintf(&b, "\n# Money math\n%s\n", strings.TrimSpace(r.MoneyMath))
	fmt.Fprintf(&b, "\n# Recalls\n%s\n", strings.TrimSpace(r.book.Recalls))

	b.WriteString("\n# Output format\n")
	if mode == model.ReportModeStructured {
		b.WriteString(strings.TrimSpace(r.book.Formats.Structured))
	} else {
		b.WriteString(strings.TrimSpace(r.book.Formats.Markdown))
	}

	b.WriteString("\n\n# Required sections\n")
	for i, s := range r.Sections(hasPhotos) {
		title := s.Title
		if mode == model.ReportModeStructured {
			title = fmt.Sprintf("%s (key %q)", s.Title, s.Key)
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, title, s.Instruction)
		if s.When == OnWalkOrRun {
			b.WriteString(" Include this section only when the verdict is Walk or Run.")
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\n# Verdict\n%s\n", strings.TrimSpace(r.book.Verdict))
	return b.String()
}
