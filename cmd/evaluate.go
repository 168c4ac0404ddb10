package main

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/model"
)

var (
	evaluateRequestFile string
	evaluatePhotos      []string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Produce a deal report for a single request",
	Long: `Reads an evaluation request as JSON (role, repair_skill, year, make, model,
zip, condition_notes, vin, listing_url, asking_price) from --request, or stdin
when --request is "-", attaches any --photo files and prints the report JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, closePhotos, err := loadEvaluateRequest(cmd.InOrStdin(), evaluateRequestFile, evaluatePhotos)
		if err != nil {
			return err
		}
		defer closePhotos()

		env, err := initPipeline(ctx, "evaluate")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Pipeline.Evaluate(ctx, req)
		if err != nil {
			return eris.Wrap(err, "evaluate")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateRequestFile, "request", "-", "path to the request JSON (- for stdin)")
	evaluateCmd.Flags().StringSliceVar(&evaluatePhotos, "photo", nil, "photo file to attach (repeatable)")
	rootCmd.AddCommand(evaluateCmd)
}

// loadEvaluateRequest decodes the request JSON and opens the photo files.
// The returned closer is always non-nil.
func loadEvaluateRequest(stdin io.Reader, path string, photos []string) (*model.EvaluationRequest, func(), error) {
	noop := func() {}

	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, noop, eris.Wrapf(err, "open request %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var body evaluateBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, noop, eris.Wrap(model.ErrInvalidInput, "request is not valid JSON")
	}
	req, err := body.toRequest()
	if err != nil {
		return nil, noop, err
	}

	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, p := range photos {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, noop, eris.Wrapf(err, "open photo %s", p)
		}
		opened = append(opened, f)

		info, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, noop, eris.Wrapf(err, "stat photo %s", p)
		}
		mt, err := photoMIMEType(f, p)
		if err != nil {
			closeAll()
			return nil, noop, err
		}
		req.Photos = append(req.Photos, model.Photo{
			Name:     filepath.Base(p),
			Size:     info.Size(),
			MIMEType: mt,
			Reader:   f,
		})
	}

	req.Endpoint = "evaluate"
	req.Method = "CLI"
	zap.L().Debug("evaluate: request loaded",
		zap.String("role", string(req.Role)),
		zap.Int("photos", len(req.Photos)),
	)
	return req, closeAll, nil
}

// photoMIMEType uses the file extension, falling back to content sniffing.
// The file offset is left at the start.
func photoMIMEType(f *os.File, path string) (string, error) {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt, nil
	}
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", eris.Wrapf(err, "read photo %s", path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", eris.Wrapf(err, "rewind photo %s", path)
	}
	return http.DetectContentType(head[:n]), nil
}
