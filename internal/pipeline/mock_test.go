package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/deal-report/internal/generation"
	"github.com/sells-group/deal-report/internal/model"
)

// --- Source fake ---

type fakeSource struct {
	name    string
	applies bool
	delay   time.Duration
	frag    Fragment
	err     error
	panics  bool

	mu    sync.Mutex
	calls int
	seen  Query
}

func (f *fakeSource) Name() string       { return f.name }
func (f *fakeSource) Applies(Query) bool { return f.applies }

func (f *fakeSource) Fetch(ctx context.Context, q Query) (Fragment, error) {
	f.mu.Lock()
	f.calls++
	f.seen = q
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Fragment{}, ctx.Err()
		}
	}
	return f.frag, f.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- Searcher mock ---

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, query string) ([]model.Snippet, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Snippet), args.Error(1)
}

// --- Listing scraper mock ---

type mockListingScraper struct {
	mock.Mock
}

func (m *mockListingScraper) Listing(ctx context.Context, url string) (*model.Listing, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Listing), args.Error(1)
}

// --- Generator mock ---

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Run(ctx context.Context, payload *generation.Payload, assets []generation.Asset) (*generation.Output, *model.GenerationJob, error) {
	args := m.Called(ctx, payload, assets)
	var out *generation.Output
	if v := args.Get(0); v != nil {
		out = v.(*generation.Output)
	}
	var job *model.GenerationJob
	if v := args.Get(1); v != nil {
		job = v.(*model.GenerationJob)
	}
	return out, job, args.Error(2)
}

// --- Audit recorder fake ---

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
