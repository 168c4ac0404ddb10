// Package roles holds the role-locked business rules that shape a deal
// report: which sections are requested, how the money math is framed and
// which figures a role may never see.
package roles

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deal-report/internal/model"
)

//go:embed rules.yaml
var defaultRules []byte

// Condition gates an optional section.
type Condition string

const (
	// Always is the zero condition.
	Always Condition = ""
	// WithPhotos requests the section only when photos are attached.
	WithPhotos Condition = "photos"
	// OnWalkOrRun keeps the section only when the verdict is Walk or Run.
	OnWalkOrRun Condition = "walk_run"
)

// SectionSpec describes one report section.
type SectionSpec struct {
	Key         model.SectionKey `yaml:"key"`
	Title       string           `yaml:"title"`
	Aliases     []string         `yaml:"aliases"`
	Instruction string           `yaml:"instruction"`
	When        Condition        `yaml:"when"`
	// Roles restricts the section to these roles. Empty means every role.
	Roles []model.Role `yaml:"roles"`
}

func (s SectionSpec) appliesTo(role model.Role) bool {
	if len(s.Roles) == 0 {
		return true
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Formats holds the output-format instruction per report mode.
type Formats struct {
	Markdown   string `yaml:"markdown"`
	Structured string `yaml:"structured"`
}

// Book is the full rule set for every role.
type Book struct {
	Preamble string                `yaml:"preamble"`
	Recalls  string                `yaml:"recalls"`
	Verdict  string                `yaml:"verdict"`
	Formats  Formats               `yaml:"formats"`
	Sections []SectionSpec         `yaml:"sections"`
	Roles    map[model.Role]*Rules `yaml:"roles"`

	titles map[string]model.SectionKey
}

// Load parses the embedded rule book.
func Load() (*Book, error) {
	return Parse(defaultRules)
}

// LoadFile parses a rule book from disk, for deployments that override the
// embedded rules.
func LoadFile(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roles: read rules %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a rule book document.
func Parse(data []byte) (*Book, error) {
	// The document has a top-level "rules" key.
	var wrapper struct {
		Rules Book `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "roles: parse rules")
	}
	b := &wrapper.Rules

	for _, role := range []model.Role{model.RoleBuyer, model.RoleSeller, model.RoleFlipper, model.RolePremium} {
		r, ok := b.Roles[role]
		if !ok || r == nil {
			return nil, eris.Errorf("roles: no rules for role %s", role)
		}
		r.Role = role
		r.book = b
		r.forbidden = make([]*regexp.Regexp, 0, len(r.ForbiddenTerms))
		for _, term := range r.ForbiddenTerms {
			// Also matches JSON keys such as max_price_to_pay.
			words := strings.ReplaceAll(regexp.QuoteMeta(term), " ", `[\s_-]+`)
			r.forbidden = append(r.forbidden, regexp.MustCompile(`(?i)\b`+words+`\b`))
		}
	}

	b.titles = make(map[string]model.SectionKey)
	seen := make(map[model.SectionKey]bool, len(b.Sections))
	for _, s := range b.Sections {
		if s.Key == "" || s.Title == "" {
			return nil, eris.New("roles: section needs key and title")
		}
		if seen[s.Key] {
			return nil, eris.Errorf("roles: duplicate section %s", s.Key)
		}
		seen[s.Key] = true
		b.titles[normalizeTitle(s.Title)] = s.Key
		b.titles[normalizeTitle(string(s.Key))] = s.Key
		for _, a := range s.Aliases {
			b.titles[normalizeTitle(a)] = s.Key
		}
	}
	return b, nil
}

// For returns the rules for role.
func (b *Book) For(role model.Role) (*Rules, error) {
	r, ok := b.Roles[role]
	if !ok {
		return nil, eris.Wrapf(model.ErrInvalidInput, "roles: unknown role %q", role)
	}
	return r, nil
}

// Spec returns the section spec for key.
func (b *Book) Spec(key model.SectionKey) (SectionSpec, bool) {
	for _, s := range b.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return SectionSpec{}, false
}

// KeyForTitle maps a heading found in generated text onto a section key,
// matching titles, keys and aliases case-insensitively.
func (b *Book) KeyForTitle(heading string) (model.SectionKey, bool) {
	k, ok := b.titles[normalizeTitle(heading)]
	return k, ok
}

var titleNoise = regexp.MustCompile(`[^a-z0-9 ]+`)

func normalizeTitle(s string) string {
	s = strings.NewReplacer("_", " ", "&", " and ").Replace(strings.ToLower(s))
	s = titleNoise.ReplaceAllString(s, " ")
	fields := strings.Fields(s)
	// Drop list numbering ("3. Checklist").
	if len(fields) > 1 && strings.Trim(fields[0], "0123456789") == "" {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}
