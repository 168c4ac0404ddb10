package model

import "strings"

// Provenance records where a resolved identity field came from.
type Provenance string

const (
	ProvenanceUser    Provenance = "user"
	ProvenanceDecoded Provenance = "decoded"
	ProvenanceDefault Provenance = "default"
)

// VehicleIdentity is the single resolved identity used by every later stage.
type VehicleIdentity struct {
	Year  string `json:"year"`
	Make  string `json:"make"`
	Model string `json:"model"`

	YearSource  Provenance `json:"year_source"`
	MakeSource  Provenance `json:"make_source"`
	ModelSource Provenance `json:"model_source"`

	// Decoded holds extra attributes returned by the VIN registry (trim, body
	// class, engine, ...). Nil when no decode happened.
	Decoded map[string]string `json:"decoded,omitempty"`
}

// Label renders "2014 Ford F-150", skipping empty parts.
func (v VehicleIdentity) Label() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{v.Year, v.Make, v.Model} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Degraded reports whether make or model could not be resolved.
func (v VehicleIdentity) Degraded() bool {
	return v.Make == "" || v.Model == ""
}

// DecodedVehicle is the subset of a VIN decode the resolver consumes.
type DecodedVehicle struct {
	VIN        string            `json:"vin"`
	Make       string            `json:"make"`
	Model      string            `json:"model"`
	Year       string            `json:"year"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
