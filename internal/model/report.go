package model

import "github.com/shopspring/decimal"

// Verdict is the single terminal recommendation token.
type Verdict string

const (
	VerdictTalk Verdict = "Talk"
	VerdictWalk Verdict = "Walk"
	VerdictRun  Verdict = "Run"
)

// ParseVerdict maps a case-insensitive token onto a Verdict.
func ParseVerdict(s string) (Verdict, bool) {
	switch s {
	case "Talk", "talk", "TALK":
		return VerdictTalk, true
	case "Walk", "walk", "WALK":
		return VerdictWalk, true
	case "Run", "run", "RUN":
		return VerdictRun, true
	}
	return "", false
}

// SectionKey names a report section.
type SectionKey string

const (
	SectionRecap         SectionKey = "recap"
	SectionBreakdown     SectionKey = "breakdown"
	SectionIssues        SectionKey = "issues"
	SectionChecklist     SectionKey = "checklist"
	SectionRecalls       SectionKey = "recall_risks"
	SectionImageIntel    SectionKey = "image_intelligence"
	SectionRealTalk      SectionKey = "real_talk"
	SectionAction        SectionKey = "recommended_action"
	SectionMoneyMath     SectionKey = "money_math"
	SectionROI           SectionKey = "roi"
	SectionVerdict       SectionKey = "verdict"
	SectionMarketComps   SectionKey = "market_comps"
	SectionJustification SectionKey = "pricing_justification"
	SectionAlternatives  SectionKey = "alternatives"
)

// Section is one named block of the generated report.
type Section struct {
	Key   SectionKey `json:"key"`
	Title string     `json:"title"`
	Body  string     `json:"body"`
}

// MoneyMath is the deterministic recomputation of the cost table.
type MoneyMath struct {
	AskingPrice   decimal.Decimal  `json:"asking_price"`
	RepairsLow    decimal.Decimal  `json:"repairs_low"`
	RepairsHigh   decimal.Decimal  `json:"repairs_high"`
	Fees          decimal.Decimal  `json:"fees"`
	AllInLow      decimal.Decimal  `json:"all_in_low"`
	AllInHigh     decimal.Decimal  `json:"all_in_high"`
	MaxPriceToPay *decimal.Decimal `json:"max_price_to_pay,omitempty"`
	Savings       *decimal.Decimal `json:"savings,omitempty"`
	ResaleValue   *decimal.Decimal `json:"resale_value,omitempty"`
	MaxBid        *decimal.Decimal `json:"max_bid,omitempty"`
	ListingLow    *decimal.Decimal `json:"listing_low,omitempty"`
	ListingHigh   *decimal.Decimal `json:"listing_high,omitempty"`
}

// ReportMode says which output form the report was parsed from.
type ReportMode string

const (
	ReportModeMarkdown   ReportMode = "markdown"
	ReportModeStructured ReportMode = "structured"
	ReportModeListing    ReportMode = "listing"
)

// EvaluationReport is the validated, caller-visible result.
type EvaluationReport struct {
	Mode                ReportMode       `json:"mode"`
	Role                Role             `json:"role"`
	Vehicle             *VehicleIdentity `json:"vehicle,omitempty"`
	RawText             string           `json:"raw_text,omitempty"`
	Sections            []Section        `json:"sections,omitempty"`
	Verdict             Verdict          `json:"verdict,omitempty"`
	RecomputedMoneyMath *MoneyMath       `json:"money_math,omitempty"`
	Listing             *Listing         `json:"listing,omitempty"`
	Warnings            []string         `json:"warnings,omitempty"`
}

// Section returns the section with the given key, if present.
func (r *EvaluationReport) Section(key SectionKey) (Section, bool) {
	for _, s := range r.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return Section{}, false
}

// Warn appends a data-quality warning.
func (r *EvaluationReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
