package generation

import (
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/pkg/anthropic"
)

// MaxAssets is the most images ever forwarded to the generation service.
const MaxAssets = 2

// Asset is a validated, loaded image.
type Asset struct {
	ID        string
	Name      string
	MediaType string
	Data      []byte
}

// eligible reports whether a photo may be forwarded: a positive declared
// size and an image MIME type.
func eligible(p model.Photo) bool {
	return p.Size > 0 && p.IsImage()
}

// LoadAssets reads eligible photos in submission order until MaxAssets have
// loaded. A photo that cannot be read, reads empty or exceeds maxBytes is
// skipped and the next eligible photo takes its slot.
func LoadAssets(photos []model.Photo, maxBytes int64) []Asset {
	out := make([]Asset, 0, MaxAssets)
	for _, p := range photos {
		if len(out) == MaxAssets {
			break
		}
		if !eligible(p) {
			continue
		}
		data, err := readPhoto(p, maxBytes)
		if err != nil {
			zap.L().Warn("generation: skipping photo",
				zap.String("name", p.Name),
				zap.Int64("size", p.Size),
				zap.Error(err),
			)
			continue
		}
		out = append(out, Asset{
			ID:        uuid.NewString(),
			Name:      p.Name,
			MediaType: strings.ToLower(strings.TrimSpace(p.MIMEType)),
			Data:      data,
		})
	}
	return out
}

func readPhoto(p model.Photo, maxBytes int64) ([]byte, error) {
	if p.Reader == nil {
		return nil, eris.New("generation: photo has no reader")
	}
	r := p.Reader
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "generation: read photo")
	}
	if len(data) == 0 {
		return nil, eris.New("generation: photo is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, eris.Errorf("generation: photo exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func toImages(assets []Asset) []anthropic.Image {
	out := make([]anthropic.Image, 0, len(assets))
	for _, a := range assets {
		out = append(out, anthropic.Image{MediaType: a.MediaType, Data: a.Data})
	}
	return out
}
