package model

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidInput marks errors caused by the caller's submission rather than
// by pipeline execution.
var ErrInvalidInput = eris.New("invalid input")

// Role is the caller's evaluation role. The pipeline never changes it.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleFlipper Role = "flipper"
	RolePremium Role = "premium"
)

// ParseRole maps free-form role input onto a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buyer":
		return RoleBuyer, nil
	case "seller":
		return RoleSeller, nil
	case "flipper":
		return RoleFlipper, nil
	case "premium":
		return RolePremium, nil
	}
	return "", eris.Wrapf(ErrInvalidInput, "unknown role %q", s)
}

// UsesMaxPrice reports whether the role's money math caps what the caller
// should pay (Buyer, Flipper and Premium).
func (r Role) UsesMaxPrice() bool {
	return r == RoleBuyer || r == RoleFlipper || r == RolePremium
}

// Photo is one uploaded photo handle as handed over by the transport layer.
type Photo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MIMEType string    `json:"mime_type"`
	Reader   io.Reader `json:"-"`
}

// IsImage reports whether the declared MIME type is an image type.
func (p Photo) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(p.MIMEType)), "image/")
}

// EvaluationRequest is the typed, single-valued submission the pipeline consumes.
type EvaluationRequest struct {
	Role           Role     `json:"role"`
	RepairSkill    string   `json:"repair_skill"`
	Year           string   `json:"year,omitempty"`
	Make           string   `json:"make,omitempty"`
	Model          string   `json:"model,omitempty"`
	Zip            string   `json:"zip"`
	ConditionNotes string   `json:"condition_notes"`
	VIN            string   `json:"vin,omitempty"`
	ListingURL     string   `json:"listing_url,omitempty"`
	AskingPrice    *float64 `json:"asking_price,omitempty"`
	Photos         []Photo  `json:"photos,omitempty"`

	// Transport metadata copied into the audit record.
	Endpoint  string `json:"-"`
	Method    string `json:"-"`
	SessionID string `json:"-"`
	UserAgent string `json:"-"`
	IP        string `json:"-"`
}

// Validate checks the invariants the transport boundary must guarantee and
// normalizes Role to its canonical form.
func (r *EvaluationRequest) Validate() error {
	role, err := ParseRole(string(r.Role))
	if err != nil {
		return err
	}
	r.Role = role
	if r.AskingPrice != nil && *r.AskingPrice < 0 {
		return eris.Wrap(ErrInvalidInput, "asking price must not be negative")
	}
	return nil
}

// HasVehicleFields reports whether any field other than the notes describes
// the vehicle (year/make/model, VIN, price or photos).
func (r *EvaluationRequest) HasVehicleFields() bool {
	return r.Year != "" || r.Make != "" || r.Model != "" || r.VIN != "" ||
		r.AskingPrice != nil || len(r.Photos) > 0
}

// Snapshot returns a JSON-friendly view of the request for audit logging.
func (r *EvaluationRequest) Snapshot() map[string]any {
	photos := make([]map[string]any, 0, len(r.Photos))
	for _, p := range r.Photos {
		photos = append(photos, map[string]any{
			"name":      p.Name,
			"size":      p.Size,
			"mime_type": p.MIMEType,
		})
	}
	snap := map[string]any{
		"role":            string(r.Role),
		"repair_skill":    r.RepairSkill,
		"year":            r.Year,
		"make":            r.Make,
		"model":           r.Model,
		"zip":             r.Zip,
		"condition_notes": r.ConditionNotes,
		"vin":             r.VIN,
		"listing_url":     r.ListingURL,
		"photos":          photos,
	}
	if r.AskingPrice != nil {
		snap["asking_price"] = *r.AskingPrice
	}
	return snap
}
