package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/pkg/nhtsa"
)

// decodedAttributes are the vPIC fields carried into the prompt.
var decodedAttributes = []string{
	"Trim", "Series", "BodyClass", "DriveType", "EngineCylinders",
	"DisplacementL", "FuelTypePrimary", "TransmissionStyle", "PlantCountry",
}

// Makes vPIC reports in capitals that stay capitalised.
var acronymMakes = map[string]bool{"BMW": true, "GMC": true, "MG": true, "AMC": true}

// IdentityResolver picks one vehicle identity from user input and an
// optional VIN decode. It never fails.
type IdentityResolver struct {
	decoder nhtsa.Client
	timeout time.Duration
	now     func() time.Time
}

// NewIdentityResolver creates a resolver. A nil decoder disables VIN decode.
func NewIdentityResolver(decoder nhtsa.Client, timeout time.Duration) *IdentityResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IdentityResolver{decoder: decoder, timeout: timeout, now: time.Now}
}

// Resolve merges user-supplied year/make/model with the decoded VIN. User
// values always win; decoded values fill blanks; a missing year defaults to
// the current year.
func (r *IdentityResolver) Resolve(ctx context.Context, req *model.EvaluationRequest) model.VehicleIdentity {
	decoded := r.decode(ctx, req.VIN)

	id := model.VehicleIdentity{}
	var dYear, dMake, dModel string
	if decoded != nil {
		dYear, dMake, dModel = decoded.Year, decoded.Make, decoded.Model
		id.Decoded = decoded.Attributes
	}

	id.Year, id.YearSource = pick(req.Year, dYear)
	id.Make, id.MakeSource = pick(req.Make, dMake)
	id.Model, id.ModelSource = pick(req.Model, dModel)

	if id.Year == "" {
		id.Year = strconv.Itoa(r.now().Year())
	}
	return id
}

func pick(user, decoded string) (string, model.Provenance) {
	if strings.TrimSpace(user) != "" {
		return user, model.ProvenanceUser
	}
	if decoded != "" {
		return decoded, model.ProvenanceDecoded
	}
	return "", model.ProvenanceDefault
}

// decode returns nil on any failure; the caller falls back to user input.
func (r *IdentityResolver) decode(ctx context.Context, vin string) *model.DecodedVehicle {
	vin = strings.TrimSpace(vin)
	if vin == "" || r.decoder == nil {
		return nil
	}
	log := zap.L().With(zap.String("vin", vin))

	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.decoder.DecodeVIN(dctx, vin)
	if err != nil {
		log.Warn("identity: vin decode failed, using user fields",
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		return nil
	}
	if !res.Clean() {
		log.Debug("identity: vin decoded with warnings", zap.String("error_text", res.ErrorText))
	}

	dv := &model.DecodedVehicle{
		VIN:   res.VIN,
		Make:  normalizeMake(res.Make),
		Model: strings.TrimSpace(res.Model),
		Year:  strings.TrimSpace(res.ModelYear),
	}
	for _, k := range decodedAttributes {
		if v, ok := res.Attributes[k]; ok {
			if dv.Attributes == nil {
				dv.Attributes = make(map[string]string)
			}
			dv.Attributes[k] = v
		}
	}
	log.Info("identity: vin decoded",
		zap.String("make", dv.Make),
		zap.String("model", dv.Model),
		zap.String("year", dv.Year),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return dv
}

// normalizeMake turns vPIC's "FORD" into "Ford". Mixed-case input is kept.
func normalizeMake(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s != strings.ToUpper(s) || acronymMakes[s] {
		return s
	}
	return cases.Title(language.English).String(strings.ToLower(s))
}
