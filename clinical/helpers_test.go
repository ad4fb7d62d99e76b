package clinical

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) GenerateID() (string, error) {
	return fmt.Sprintf("R%d", s.n.Add(1)), nil
}

func intp(v int) *int { return &v }

var testScope = Scope{DoctorID: "DR-1", ClinicID: "CL-1"}

var testVisit = VisitRef{Scope: testScope, PatientID: "P-1", ShiftID: "S-1", VisitNumber: 1}

type fakeCatalogs struct {
	mu        sync.Mutex
	options   map[Kind][]Option
	listErr   map[Kind]error
	createErr error
	created   []Option
	// gate, when set, blocks List until a value is sent
	gate chan struct{}
}

func newFakeCatalogs() *fakeCatalogs {
	return &fakeCatalogs{options: map[Kind][]Option{}, listErr: map[Kind]error{}}
}

func (f *fakeCatalogs) List(ctx context.Context, scope Scope, kind Kind) ([]Option, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[kind]; err != nil {
		return nil, err
	}
	return append([]Option(nil), f.options[kind]...), nil
}

func (f *fakeCatalogs) Create(ctx context.Context, scope Scope, kind Kind, opt Option) (Option, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Option{}, f.createErr
	}
	if opt.Priority == nil {
		opt.Priority = intp(DefaultPriority)
	}
	f.created = append(f.created, opt)
	f.options[kind] = append(f.options[kind], opt)
	return opt, nil
}

type detailReply struct {
	details Details
	err     error
}

// fakeDetails answers fetches from a queue; the last reply repeats.
type fakeDetails struct {
	mu      sync.Mutex
	replies []detailReply
	calls   int
	// hold, when set, blocks GetDetails until a value is sent
	hold chan struct{}
	// entered is signalled when a call is blocked on hold
	entered chan struct{}
}

func (f *fakeDetails) push(payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, detailReply{details: Details{Found: payload != nil, Payload: payload}})
}

func (f *fakeDetails) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, detailReply{err: err})
}

func (f *fakeDetails) GetDetails(ctx context.Context, visit VisitRef) (Details, error) {
	f.mu.Lock()
	hold, entered := f.hold, f.entered
	f.calls++
	var r detailReply
	switch {
	case len(f.replies) > 1:
		r = f.replies[0]
		f.replies = f.replies[1:]
	case len(f.replies) == 1:
		r = f.replies[0]
	}
	f.mu.Unlock()

	if hold != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-hold
	}
	return r.details, r.err
}

func (f *fakeDetails) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSaver struct {
	mu       sync.Mutex
	result   SaveResult
	err      error
	payloads []SavePayload
	hold     chan struct{}
	entered  chan struct{}
}

func (f *fakeSaver) Save(ctx context.Context, p SavePayload) (SaveResult, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	hold, entered := f.hold, f.entered
	res, err := f.result, f.err
	f.mu.Unlock()
	if hold != nil {
		entered <- struct{}{}
		<-hold
	}
	return res, err
}

type countingRecorder struct {
	mu         sync.Mutex
	gateSkips  map[string]int
	duplicates map[string]int
	saves      map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{gateSkips: map[string]int{}, duplicates: map[string]int{}, saves: map[string]int{}}
}

func (r *countingRecorder) ObserveGateSkip(kind string) {
	r.mu.Lock()
	r.gateSkips[kind]++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveDuplicates(kind string, n int) {
	r.mu.Lock()
	r.duplicates[kind] += n
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveSave(outcome string) {
	r.mu.Lock()
	r.saves[outcome]++
	r.mu.Unlock()
}

func rowsPayload(rows ...map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func labels(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Label
	}
	return out
}
