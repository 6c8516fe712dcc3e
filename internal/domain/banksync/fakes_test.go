package banksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bankfeed/internal/domain/accountlink"
	"bankfeed/internal/domain/connector"
	"bankfeed/internal/domain/provider"
	"bankfeed/internal/domain/statement"
	"bankfeed/internal/domain/syncrun"
)

type fakeConnectors struct {
	mu    sync.Mutex
	byID  map[string]connector.Connector
	saves int
}

func newFakeConnectors(cs ...connector.Connector) *fakeConnectors {
	f := &fakeConnectors{byID: map[string]connector.Connector{}}
	for _, c := range cs {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeConnectors) GetByID(_ context.Context, tenantID int64, id string) (*connector.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.TenantID != tenantID {
		return nil, connector.ErrNotFound
	}
	return &c, nil
}

func (f *fakeConnectors) SaveSyncState(_ context.Context, c *connector.Connector, loaded connector.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.Status = connector.ResolveSyncStatus(f.byID[c.ID].Status, loaded, c.Status)
	f.byID[c.ID] = *c
	f.saves++
	return nil
}

func (f *fakeConnectors) ListDue(context.Context, connector.DueFilter) ([]*connector.Connector, error) {
	return nil, nil
}

func (f *fakeConnectors) setStatus(id string, status connector.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byID[id]
	c.Status = status
	f.byID[id] = c
}

func (f *fakeConnectors) get(id string) connector.Connector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

type fakeLinks map[string]*accountlink.Link

func (f fakeLinks) ActiveLinksByExternalID(_ context.Context, connectorID string) (map[string]*accountlink.Link, error) {
	out := map[string]*accountlink.Link{}
	for k, l := range f {
		if l.ConnectorID == connectorID && l.Status == accountlink.StatusActive {
			out[k] = l
		}
	}
	return out, nil
}

// memRuns enforces the (connector, request_id) uniqueness the database does.
type memRuns struct {
	mu        sync.Mutex
	runs      map[string]*syncrun.Run
	imports   []*syncrun.Import
	seq       int
	beforeAdd func(run *syncrun.Run)
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[string]*syncrun.Run{}}
}

func (m *memRuns) Create(_ context.Context, run *syncrun.Run) (*syncrun.Run, error) {
	if m.beforeAdd != nil {
		m.beforeAdd(run)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.RequestID != nil {
		for _, r := range m.runs {
			if r.ConnectorID == run.ConnectorID && r.RequestID != nil && *r.RequestID == *run.RequestID {
				return nil, syncrun.ErrDuplicateRequestID
			}
		}
	}
	m.seq++
	stored := *run
	stored.ID = fmt.Sprintf("run-%d", m.seq)
	m.runs[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *memRuns) GetByID(_ context.Context, tenantID int64, id string) (*syncrun.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenantID {
		return nil, syncrun.ErrNotFound
	}
	out := *r
	return &out, nil
}

func (m *memRuns) GetByRequestID(_ context.Context, connectorID, requestID string) (*syncrun.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ConnectorID == connectorID && r.RequestID != nil && *r.RequestID == requestID {
			out := *r
			return &out, nil
		}
	}
	return nil, syncrun.ErrNotFound
}

func (m *memRuns) Finalize(_ context.Context, run *syncrun.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return syncrun.ErrNotFound
	}
	if stored.Status != syncrun.StatusRunning {
		return syncrun.ErrAlreadyFinalized
	}
	*stored = *run
	return nil
}

func (m *memRuns) List(_ context.Context, filter syncrun.ListFilter) ([]*syncrun.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*syncrun.Run
	for _, r := range m.runs {
		if r.ConnectorID == filter.ConnectorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRuns) CreateImport(_ context.Context, imp *syncrun.Import) (*syncrun.Import, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *imp
	stored.ID = fmt.Sprintf("imp-%d", len(m.imports)+1)
	m.imports = append(m.imports, &stored)
	return &stored, nil
}

func (m *memRuns) ListImports(_ context.Context, runID string) ([]*syncrun.Import, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*syncrun.Import{}
	for _, imp := range m.imports {
		if imp.SyncRunID == runID {
			out = append(out, imp)
		}
	}
	return out, nil
}

func (m *memRuns) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// fakeImporter dedups by source ref and by external transaction id per account.
type fakeImporter struct {
	mu       sync.Mutex
	requests []statement.ImportRequest
	refs     map[string]bool
	seen     map[string]bool
	failFor  map[int64]error
}

func newFakeImporter() *fakeImporter {
	return &fakeImporter{refs: map[string]bool{}, seen: map[string]bool{}, failFor: map[int64]error{}}
}

func (f *fakeImporter) Import(_ context.Context, req statement.ImportRequest) (*statement.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err, ok := f.failFor[req.BankAccountID]; ok {
		return nil, err
	}
	key := fmt.Sprintf("%d|%s", req.BankAccountID, req.SourceRef)
	if f.refs[key] {
		return nil, statement.ErrDuplicateImport
	}
	f.refs[key] = true

	res := &statement.ImportResult{
		ImportID:  fmt.Sprintf("import-%d", len(f.requests)),
		ImportRef: fmt.Sprintf("API-%d", len(f.requests)),
	}
	for _, l := range req.Lines {
		txn := fmt.Sprintf("%d|%s", req.BankAccountID, l.ExternalTxnID)
		if f.seen[txn] {
			res.DuplicateCount++
			continue
		}
		f.seen[txn] = true
		res.ImportedCount++
	}
	return res, nil
}

func (f *fakeImporter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// scriptedAdapter returns a fixed result and records every cursor it saw.
type scriptedAdapter struct {
	mu      sync.Mutex
	result  *provider.PullResult
	err     error
	cursors []*string
	creds   []map[string]string
	delay   time.Duration
	// duringPull runs inside PullStatements, while the run is in flight.
	duringPull func()
}

func (a *scriptedAdapter) Code() string { return "REST_JSON" }

func (a *scriptedAdapter) TestConnection(_ context.Context, _ map[string]any, creds map[string]string) (*provider.TestResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &provider.TestResult{OK: true, ProviderCode: "REST_JSON", ConnectorType: "API", RemoteBankName: creds["bank"]}, nil
}

func (a *scriptedAdapter) PullStatements(_ context.Context, req provider.PullRequest) (*provider.PullResult, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.duringPull != nil {
		a.duringPull()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cursors = append(a.cursors, req.Cursor)
	a.creds = append(a.creds, req.Credentials)
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

func (a *scriptedAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cursors)
}

type adapterMap map[string]provider.Adapter

func (m adapterMap) Get(code string) (provider.Adapter, error) {
	a, ok := m[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, code)
	}
	return a, nil
}

// openVault treats the stored credential text as the key of a plaintext map.
type openVault map[string]map[string]string

func (v openVault) Encrypt(map[string]string) (connector.Envelope, error) {
	return connector.Envelope{}, errors.New("not used")
}

func (v openVault) Decrypt(env connector.Envelope) (map[string]string, error) {
	plain, ok := v[env.Ciphertext]
	if !ok {
		return nil, errors.New("unknown envelope")
	}
	return plain, nil
}

func (v openVault) Serialize(env connector.Envelope) (string, error) {
	return env.Ciphertext, nil
}

func (v openVault) Parse(text string) *connector.Envelope {
	return &connector.Envelope{Ciphertext: text, KID: "test"}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []connector.Status
}

func (n *recordingNotifier) ConnectorHealthChanged(_ context.Context, c *connector.Connector, _ connector.Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c.Status)
	return nil
}
