//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-report/internal/generation"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/resilience"
)

type fakeEvaluator struct {
	mu     sync.Mutex
	req    *model.EvaluationRequest
	photos map[string][]byte
	rep    *model.EvaluationReport
	err    error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, req *model.EvaluationRequest) (*model.EvaluationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.req = req
	f.photos = map[string][]byte{}
	for _, p := range req.Photos {
		b, _ := io.ReadAll(p.Reader)
		f.photos[p.Name] = b
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.rep, f.err
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
}

func (r *recordingAudit) Record(_ context.Context, entry model.AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) Entries() []model.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditLogEntry(nil), r.entries...)
}

func walkReport() *model.EvaluationReport {
	return &model.EvaluationReport{Mode: model.ReportModeMarkdown, Role: model.RoleBuyer, Verdict: model.VerdictWalk}
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, evaluatePath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestBuildRouter_Health(t *testing.T) {
	breakers := resilience.NewBreakers(resilience.BreakerConfig{})
	breakers.Get("jina_search")

	h := buildRouter(nil, nil, breakers, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	body := decodeBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"jina_search": "closed"}, body["upstreams"])
}

func TestBuildRouter_HealthWithoutBreakers(t *testing.T) {
	h := buildRouter(nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.NotContains(t, body, "upstreams")
}

func TestBuildRouter_EvaluateMethodNotAllowed(t *testing.T) {
	h := buildRouter(&fakeEvaluator{}, nil, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, evaluatePath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "method not allowed", decodeBody(t, rr)["error"])
}

func TestBuildRouter_NotFound(t *testing.T) {
	h := buildRouter(nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildRouter_EvaluateNilPipeline(t *testing.T) {
	rr := postJSON(t, buildRouter(nil, nil, nil, nil), `{"role":"buyer"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestBuildRouter_EvaluateJSON(t *testing.T) {
	ev := &fakeEvaluator{rep: walkReport()}
	h := buildRouter(ev, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, evaluatePath, strings.NewReader(`{
		"role": "Buyer",
		"repair_skill": "none",
		"year": " 2018 ",
		"make": "Ford",
		"model": "F-150",
		"zip": "78701",
		"condition_notes": "rear main seal leak",
		"vin": "1ftew1e53jfa12345",
		"asking_price": "$18,500"
	}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, "sess-9")
	req.Header.Set("User-Agent", "curl/8.0")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report, ok := decodeBody(t, rr)["report"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Walk", report["verdict"])

	got := ev.req
	require.NotNil(t, got)
	assert.Equal(t, model.RoleBuyer, got.Role)
	assert.Equal(t, "2018", got.Year)
	assert.Equal(t, "1FTEW1E53JFA12345", got.VIN)
	require.NotNil(t, got.AskingPrice)
	assert.InDelta(t, 18500, *got.AskingPrice, 0.001)
	assert.Equal(t, evaluatePath, got.Endpoint)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "sess-9", got.SessionID)
	assert.Equal(t, "curl/8.0", got.UserAgent)
	assert.NotEmpty(t, got.IP)
}

func TestBuildRouter_EvaluateNumericAskingPrice(t *testing.T) {
	ev := &fakeEvaluator{rep: walkReport()}
	rr := postJSON(t, buildRouter(ev, nil, nil, nil), `{"role":"seller","asking_price":12000}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, ev.req.AskingPrice)
	assert.InDelta(t, 12000, *ev.req.AskingPrice, 0.001)
}

func TestBuildRouter_EvaluateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown role", `{"role":"dealer"}`, "unknown role"},
		{"bad price", `{"role":"buyer","asking_price":"call me"}`, "asking_price"},
		{"not json", `role=buyer`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &fakeEvaluator{rep: walkReport()}
			audit := &recordingAudit{}
			rr := postJSON(t, buildRouter(ev, audit, nil, nil), tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			msg := decodeBody(t, rr)["error"]
			assert.Contains(t, msg, tt.want)
			assert.Nil(t, ev.req, "pipeline must not run on unparseable input")

			entries := audit.Entries()
			require.Len(t, entries, 1)
			e := entries[0]
			assert.Equal(t, evaluatePath, e.Endpoint)
			assert.Equal(t, http.MethodPost, e.Method)
			assert.Equal(t, http.StatusBadRequest, e.StatusCode)
			assert.Equal(t, msg, e.ResponseSnapshot["error"])
			assert.Equal(t, "application/json", e.RequestSnapshot["content_type"])
		})
	}
}

func TestBuildRouter_EvaluateErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"job failed", eris.Wrap(generation.ErrJobFailed, "batch errored"), http.StatusBadGateway},
		{"job timeout", eris.Wrap(generation.ErrJobTimeout, "after 30 polls"), http.StatusGatewayTimeout},
		{"unexpected", eris.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &fakeEvaluator{err: tt.err}
			rr := postJSON(t, buildRouter(ev, nil, nil, nil), `{"role":"flipper"}`)

			assert.Equal(t, tt.want, rr.Code)
			assert.NotEmpty(t, decodeBody(t, rr)["error"])
		})
	}
}

func TestBuildRouter_EvaluateMultipartWithPhotos(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("role", "premium"))
	require.NoError(t, mw.WriteField("make", "Honda"))
	require.NoError(t, mw.WriteField("listing_url", "https://www.ebay.com/itm/1234"))

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="photos"; filename="front.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("\xff\xd8\xff\xe0jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	ev := &fakeEvaluator{rep: walkReport()}
	req := httptest.NewRequest(http.MethodPost, evaluatePath, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "cookie-sess"})
	rr := httptest.NewRecorder()
	buildRouter(ev, nil, nil, nil).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := ev.req
	assert.Equal(t, model.RolePremium, got.Role)
	assert.Equal(t, "Honda", got.Make)
	assert.Equal(t, "https://www.ebay.com/itm/1234", got.ListingURL)
	assert.Equal(t, "cookie-sess", got.SessionID)
	require.Len(t, got.Photos, 1)
	assert.Equal(t, "front.jpg", got.Photos[0].Name)
	assert.Equal(t, "image/jpeg", got.Photos[0].MIMEType)
	assert.True(t, got.Photos[0].IsImage())
	assert.Equal(t, []byte("\xff\xd8\xff\xe0jpeg"), ev.photos["front.jpg"])
}

func TestBuildRouter_EvaluateMultipartRejectsRepeatedField(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("role", "buyer"))
	require.NoError(t, mw.WriteField("role", "seller"))
	require.NoError(t, mw.Close())

	ev := &fakeEvaluator{rep: walkReport()}
	audit := &recordingAudit{}
	req := httptest.NewRequest(http.MethodPost, evaluatePath, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(sessionHeader, "sess-4")
	rr := httptest.NewRecorder()
	buildRouter(ev, audit, nil, nil).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["error"], "given more than once")
	assert.Nil(t, ev.req)

	entries := audit.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
	assert.Equal(t, "sess-4", e.SessionID)
	assert.Equal(t, []string{"buyer", "seller"}, e.RequestSnapshot["role"])
	assert.Equal(t, 0, e.RequestSnapshot["photos"])
	assert.Contains(t, e.ResponseSnapshot["error"], "given more than once")
}

func TestBuildRouter_EvaluateSuccessLeavesAuditToPipeline(t *testing.T) {
	audit := &recordingAudit{}
	rr := postJSON(t, buildRouter(&fakeEvaluator{rep: walkReport()}, audit, nil, nil), `{"role":"buyer"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, audit.Entries())
}

func TestBuildRouter_CORSPreflight(t *testing.T) {
	h := buildRouter(&fakeEvaluator{}, nil, nil, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, evaluatePath, nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionID_HeaderWinsOverCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, evaluatePath, nil)
	req.Header.Set(sessionHeader, "from-header")
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "from-cookie"})
	assert.Equal(t, "from-header", sessionID(req))

	assert.Empty(t, sessionID(httptest.NewRequest(http.MethodGet, "/", nil)))
}
