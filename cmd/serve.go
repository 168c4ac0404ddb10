package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/pipeline"
)

const (
	evaluatePath     = "/api/evaluate"
	maxMultipartSize = 32 << 20
	sessionHeader    = "X-Session-ID"
	sessionCookie    = "session_id"
)

var servePort int

// evaluator is the part of the pipeline the HTTP layer needs.
type evaluator interface {
	Evaluate(ctx context.Context, req *model.EvaluationRequest) (*model.EvaluationReport, error)
}

// breakerSnapshot reports upstream circuit states for /health.
type breakerSnapshot interface {
	Snapshot() map[string]string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for deal report requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Pipeline, env.Sink, env.Breakers, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the HTTP routes. ev, audit and breakers may be nil in
// tests. The pipeline audits every request it runs; audit covers the ones
// rejected before it.
func buildRouter(ev evaluator, audit pipeline.AuditRecorder, breakers breakerSnapshot, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", sessionHeader},
		MaxAge:         300,
	}))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if breakers != nil {
			body["upstreams"] = breakers.Snapshot()
		}
		writeJSON(w, http.StatusOK, body)
	})

	r.Post(evaluatePath, func(w http.ResponseWriter, r *http.Request) {
		if ev == nil {
			writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
			return
		}

		req, cleanup, err := parseEvaluateRequest(r)
		defer cleanup()
		if err != nil {
			zap.L().Debug("serve: rejected request", zap.Error(err))
			if audit != nil {
				audit.Record(r.Context(), rejectedEntry(r, http.StatusBadRequest, err))
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rep, err := ev.Evaluate(r.Context(), req)
		if err != nil {
			writeError(w, pipeline.StatusCode(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"report": rep})
	})

	return r
}

// evaluateBody is the JSON form of an evaluation request.
type evaluateBody struct {
	Role           string     `json:"role"`
	RepairSkill    string     `json:"repair_skill"`
	Year           string     `json:"year"`
	Make           string     `json:"make"`
	Model          string     `json:"model"`
	Zip            string     `json:"zip"`
	ConditionNotes string     `json:"condition_notes"`
	VIN            string     `json:"vin"`
	ListingURL     string     `json:"listing_url"`
	AskingPrice    amountText `json:"asking_price"`
}

// amountText accepts a JSON number or a free-form string ("$12,500").
type amountText string

func (a *amountText) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountText(s)
		return nil
	}
	if string(b) == "null" {
		*a = ""
		return nil
	}
	*a = amountText(b)
	return nil
}

// toRequest validates the single-valued fields and builds the typed request.
func (b evaluateBody) toRequest() (*model.EvaluationRequest, error) {
	role, err := model.ParseRole(b.Role)
	if err != nil {
		return nil, err
	}
	req := &model.EvaluationRequest{
		Role:           role,
		RepairSkill:    strings.TrimSpace(b.RepairSkill),
		Year:           strings.TrimSpace(b.Year),
		Make:           strings.TrimSpace(b.Make),
		Model:          strings.TrimSpace(b.Model),
		Zip:            strings.TrimSpace(b.Zip),
		ConditionNotes: b.ConditionNotes,
		VIN:            strings.ToUpper(strings.TrimSpace(b.VIN)),
		ListingURL:     strings.TrimSpace(b.ListingURL),
	}
	if s := strings.TrimSpace(string(b.AskingPrice)); s != "" {
		d, ok := cost.ParseAmount(s)
		if !ok {
			return nil, eris.Wrapf(model.ErrInvalidInput, "asking_price %q is not a number", s)
		}
		v := d.InexactFloat64()
		req.AskingPrice = &v
	}
	return req, nil
}

// parseEvaluateRequest reads a multipart form (with photos) or a JSON body.
// The returned cleanup closes any opened photo files and is always non-nil.
func parseEvaluateRequest(r *http.Request) (*model.EvaluationRequest, func(), error) {
	noop := func() {}
	var body evaluateBody
	var files []*multipart.FileHeader

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxMultipartSize); err != nil {
			return nil, noop, eris.Wrap(model.ErrInvalidInput, "malformed multipart form")
		}
		form := r.MultipartForm
		for _, key := range []string{"role", "repair_skill", "year", "make", "model", "zip", "condition_notes", "vin", "listing_url", "asking_price"} {
			if len(form.Value[key]) > 1 {
				return nil, noop, eris.Wrapf(model.ErrInvalidInput, "field %s given more than once", key)
			}
		}
		body = evaluateBody{
			Role:           r.FormValue("role"),
			RepairSkill:    r.FormValue("repair_skill"),
			Year:           r.FormValue("year"),
			Make:           r.FormValue("make"),
			Model:          r.FormValue("model"),
			Zip:            r.FormValue("zip"),
			ConditionNotes: r.FormValue("condition_notes"),
			VIN:            r.FormValue("vin"),
			ListingURL:     r.FormValue("listing_url"),
			AskingPrice:    amountText(r.FormValue("asking_price")),
		}
		files = form.File["photos"]
	default:
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, noop, eris.Wrap(model.ErrInvalidInput, "invalid request body")
		}
	}

	req, err := body.toRequest()
	if err != nil {
		return nil, noop, err
	}

	var opened []multipart.File
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			zap.L().Warn("serve: cannot open photo", zap.String("name", fh.Filename), zap.Error(err))
			continue
		}
		opened = append(opened, f)
		req.Photos = append(req.Photos, model.Photo{
			Name:     fh.Filename,
			Size:     fh.Size,
			MIMEType: fh.Header.Get("Content-Type"),
			Reader:   f,
		})
	}

	req.Endpoint = r.URL.Path
	req.Method = r.Method
	req.SessionID = sessionID(r)
	req.UserAgent = r.UserAgent()
	req.IP = r.RemoteAddr
	return req, cleanup, nil
}

// rejectedEntry builds the audit record for a request that never reached
// the pipeline.
func rejectedEntry(r *http.Request, status int, err error) model.AuditLogEntry {
	snap := map[string]any{"content_type": r.Header.Get("Content-Type")}
	if form := r.MultipartForm; form != nil {
		for key, vals := range form.Value {
			if len(vals) == 1 {
				snap[key] = vals[0]
			} else {
				snap[key] = vals
			}
		}
		snap["photos"] = len(form.File["photos"])
	}
	return model.AuditLogEntry{
		Endpoint:         r.URL.Path,
		Method:           r.Method,
		StatusCode:       status,
		RequestSnapshot:  snap,
		ResponseSnapshot: map[string]any{"error": err.Error()},
		SessionID:        sessionID(r),
		UserAgent:        r.UserAgent(),
		IP:               r.RemoteAddr,
	}
}

// sessionID reads the caller's session from the header, then the cookie.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
