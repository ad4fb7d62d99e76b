package clinical

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CatalogSource lists and extends the reference catalogs of a doctor and clinic.
type CatalogSource interface {
	List(ctx context.Context, scope Scope, kind Kind) ([]Option, error)
	Create(ctx context.Context, scope Scope, kind Kind, opt Option) (Option, error)
}

// DetailFetcher loads the stored state of one visit.
type DetailFetcher interface {
	GetDetails(ctx context.Context, visit VisitRef) (Details, error)
}

// Saver persists a visit and answers with the canonical rows.
type Saver interface {
	Save(ctx context.Context, payload SavePayload) (SaveResult, error)
}

// Recorder receives reconciliation metrics. All methods must be nil-safe.
type Recorder interface {
	ObserveGateSkip(kind string)
	ObserveDuplicates(kind string, n int)
	ObserveSave(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveGateSkip(string)        {}
func (nopRecorder) ObserveDuplicates(string, int) {}
func (nopRecorder) ObserveSave(string)            {}

// RetryPolicy bounds the detail re-fetch that follows a save.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}

// FetchOutcome describes what a reconciliation fetch did.
type FetchOutcome int

const (
	FetchApplied FetchOutcome = iota
	FetchNotFound
	FetchStale
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchApplied:
		return "applied"
	case FetchStale:
		return "stale"
	default:
		return "not_found"
	}
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	Catalogs CatalogSource
	Details  DetailFetcher
	Saver    Saver
	IDs      IDSource
	Logger   *zap.Logger
	Recorder Recorder
	Retry    RetryPolicy
}

// Coordinator runs the reconciliation cycle of one visit session: initial
// load, selection-driven rebuild, user mutation, save and gated reload.
type Coordinator struct {
	visit      VisitRef
	registries map[Kind]*Registry
	gate       *Gate

	catalogs CatalogSource
	details  DetailFetcher
	saver    Saver
	logger   *zap.Logger
	recorder Recorder
	retry    RetryPolicy

	mu sync.Mutex
	// complaintsFromServer marks a complaint selection parsed from the
	// server's free-text field; it gates the one-time rebuild.
	complaintsFromServer bool
	serverComplaints     map[string]ComplaintEntry
	fields               map[string]any
	fetchSeq             uint64
	catalogSeq           map[Kind]uint64

	submitting atomic.Bool
}

// NewCoordinator creates the coordinator for one visit session.
func NewCoordinator(visit VisitRef, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}
	logger := opts.Logger.With(
		zap.String("patient_id", visit.PatientID),
		zap.String("doctor_id", visit.DoctorID),
		zap.String("clinic_id", visit.ClinicID),
		zap.Int("visit_number", visit.VisitNumber))

	c := &Coordinator{
		visit:      visit,
		registries: make(map[Kind]*Registry, len(Kinds)),
		gate:       NewGate(),
		catalogs:   opts.Catalogs,
		details:    opts.Details,
		saver:      opts.Saver,
		logger:     logger,
		recorder:   opts.Recorder,
		retry:      opts.Retry,
		fields:     make(map[string]any),
		catalogSeq: make(map[Kind]uint64, len(Kinds)),
	}
	for _, k := range Kinds {
		c.registries[k] = NewRegistry(k, NewCatalog(), opts.IDs, logger)
	}
	return c
}

// Visit returns the visit this coordinator reconciles.
func (c *Coordinator) Visit() VisitRef { return c.visit }

// Registry returns the registry of kind.
func (c *Coordinator) Registry(kind Kind) *Registry { return c.registries[kind] }

// Gate exposes the source precedence gate.
func (c *Coordinator) Gate() *Gate { return c.gate }

// LoadCatalog lists the reference catalog of kind. A response that arrives
// after a newer load for the same kind has started is discarded.
func (c *Coordinator) LoadCatalog(ctx context.Context, kind Kind) error {
	if err := c.visit.Scope.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.catalogSeq[kind]++
	seq := c.catalogSeq[kind]
	c.mu.Unlock()

	opts, err := c.catalogs.List(ctx, c.visit.Scope, kind)
	if err != nil {
		c.logger.Warn("failed to load catalog", zap.String("kind", string(kind)), zap.Error(err))
		return errors.Wrapf(err, "failed to load %s catalog", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.catalogSeq[kind] {
		c.logger.Debug("discarding stale catalog response", zap.String("kind", string(kind)))
		return nil
	}
	c.registries[kind].Catalog().Replace(opts)
	if kind == KindComplaint {
		return c.rebuildComplaintsLocked()
	}
	return nil
}

// LoadCatalogs loads every catalog and returns the failures by kind. Each
// failed kind can be retried on its own with LoadCatalog.
func (c *Coordinator) LoadCatalogs(ctx context.Context) map[Kind]error {
	failed := make(map[Kind]error)
	for _, k := range Kinds {
		if err := c.LoadCatalog(ctx, k); err != nil {
			failed[k] = err
		}
	}
	return failed
}

// Fetch runs fetch reconciliation: the visit details are loaded and applied
// per kind unless a save locked that kind since the previous fetch.
func (c *Coordinator) Fetch(ctx context.Context) (FetchOutcome, error) {
	if err := c.visit.validate(); err != nil {
		return FetchNotFound, err
	}
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	d, err := c.details.GetDetails(ctx, c.visit)
	if err != nil {
		// no data arrived; the gate is left as it was
		c.logger.Warn("failed to fetch visit details", zap.Error(err))
		return FetchNotFound, errors.Wrap(err, "failed to fetch visit details")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.fetchSeq {
		c.logger.Debug("discarding stale visit details")
		return FetchStale, nil
	}
	if !d.Found || d.Payload == nil {
		return FetchNotFound, nil
	}
	if err := c.applyFetchLocked(d.Payload); err != nil {
		return FetchNotFound, err
	}
	return FetchApplied, nil
}

func (c *Coordinator) applyFetchLocked(payload map[string]any) error {
	for name, v := range UIFields(payload) {
		c.fields[name] = v
	}
	for _, kind := range Kinds {
		if c.gate.Consume(kind) {
			c.logger.Info("save snapshot holds, skipping fetched rows", zap.String("kind", string(kind)))
			c.recorder.ObserveGateSkip(string(kind))
			continue
		}
		if rows, ok := KindRows(kind, payload); ok {
			if err := c.registries[kind].Load(rows, SourceFetch); err != nil {
				return err
			}
			if kind == KindComplaint {
				c.complaintsFromServer = false
				c.serverComplaints = nil
			}
			continue
		}
		if kind == KindComplaint {
			if text := complaintTextAliases.String(payload); text != "" {
				if err := c.selectComplaintsFromTextLocked(text); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// selectComplaintsFromTextLocked turns the server's free-text complaint field
// into a selection and arms the one-time rebuild.
func (c *Coordinator) selectComplaintsFromTextLocked(text string) error {
	reg := c.registries[KindComplaint]
	entries := ParseComplaintList(text)
	keys := make([]string, 0, len(entries))
	c.serverComplaints = make(map[string]ComplaintEntry, len(entries))
	for _, e := range entries {
		key := Normalize(e.Name)
		if opt, ok := reg.Catalog().Lookup(e.Name); ok {
			key = opt.Key()
		}
		keys = append(keys, key)
		c.serverComplaints[key] = e
	}
	reg.SetSelection(keys)
	c.complaintsFromServer = true
	return c.rebuildComplaintsLocked()
}

// rebuildComplaintsLocked builds complaint rows from the selection set, once
// per server population. It waits for the complaint catalog to be loaded.
func (c *Coordinator) rebuildComplaintsLocked() error {
	reg := c.registries[KindComplaint]
	if !c.complaintsFromServer || !reg.Catalog().Loaded() {
		return nil
	}
	selected := reg.Selected()
	rows := make([]Row, 0, len(selected))
	for _, key := range selected {
		entry := c.serverComplaints[key]
		var row Row
		if opt, ok := reg.Catalog().Lookup(key); ok {
			row = opt.row("")
		} else {
			name := entry.Name
			if name == "" {
				name = key
			}
			row = Row{Key: Normalize(name), Label: name, Priority: DefaultPriority}
		}
		row.Comment = entry.Comment
		rows = append(rows, row)
	}
	c.complaintsFromServer = false
	c.serverComplaints = nil
	return reg.Load(rows, SourceRebuild)
}

// ComplaintsFromServer reports whether a server-driven rebuild is still pending.
func (c *Coordinator) ComplaintsFromServer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complaintsFromServer
}

// ApplySave applies a successful save's canonical rows and locks every kind
// the response carried, so the next fetch for it is skipped.
func (c *Coordinator) ApplySave(res SaveResult) error {
	if !res.Success {
		return ErrSaveRejected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// the save wins over any fetch still in flight
	c.fetchSeq++
	return c.applySaveLocked(res.Payload)
}

func (c *Coordinator) applySaveLocked(payload map[string]any) error {
	for _, kind := range Kinds {
		rows, ok := KindRows(kind, payload)
		if !ok {
			continue
		}
		if err := c.registries[kind].Load(rows, SourceSave); err != nil {
			return err
		}
		c.gate.Lock(kind)
		if kind == KindComplaint {
			c.complaintsFromServer = false
			c.serverComplaints = nil
		}
	}
	return nil
}

// Save persists the visit. Only one save may be in flight; a failed save
// leaves every local row untouched.
func (c *Coordinator) Save(ctx context.Context, fields map[string]any) (SaveResult, error) {
	if err := c.visit.validate(); err != nil {
		return SaveResult{}, err
	}
	if !c.submitting.CompareAndSwap(false, true) {
		return SaveResult{}, ErrSaveInProgress
	}
	defer c.submitting.Store(false)

	payload := c.buildPayload(fields)
	res, err := c.saver.Save(ctx, payload)
	if err != nil {
		c.recorder.ObserveSave("error")
		c.logger.Error("failed to save visit", zap.Error(err))
		return SaveResult{}, errors.Wrap(err, "failed to save visit")
	}
	if !res.Success {
		c.recorder.ObserveSave("rejected")
		c.logger.Warn("visit save rejected")
		return res, ErrSaveRejected
	}
	if err := c.ApplySave(res); err != nil {
		return res, err
	}
	c.recorder.ObserveSave("success")
	c.logger.Info("visit saved")
	return res, nil
}

// Submitting reports whether a save is in flight.
func (c *Coordinator) Submitting() bool {
	return c.submitting.Load()
}

func (c *Coordinator) buildPayload(fields map[string]any) SavePayload {
	p := SavePayload{
		Visit:  c.visit,
		Rows:   make(map[Kind][]map[string]any, len(Kinds)),
		Fields: make(map[string]any, len(fields)+1),
	}
	for k, v := range fields {
		p.Fields[k] = v
	}
	for _, kind := range Kinds {
		rows := c.registries[kind].Rows()
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			out = append(out, PayloadRow(kind, r))
		}
		p.Rows[kind] = out
		if kind == KindComplaint {
			p.Fields["currentComplaint"] = EncodeComplaints(rows)
		}
	}
	return p
}

// RefreshAfterSave re-fetches visit details with a bounded retry to ride out
// eventual consistency. The first found response wins. Failures are returned
// for logging only; the save itself already succeeded.
func (c *Coordinator) RefreshAfterSave(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.Delay):
			}
		}
		outcome, err := c.Fetch(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if outcome != FetchNotFound {
			return nil
		}
	}
	if lastErr != nil {
		return lastErr
	}
	c.logger.Warn("visit details not found after save", zap.Int("attempts", c.retry.Attempts))
	return nil
}

// SetSelection replaces the selection of kind from manual checkbox clicks.
func (c *Coordinator) SetSelection(kind Kind, keys []string) error {
	if err := c.visit.Scope.validate(); err != nil {
		return err
	}
	c.registries[kind].SetSelection(keys)
	return nil
}

// BulkAdd adds the given catalog keys, or the current selection when keys is empty.
func (c *Coordinator) BulkAdd(kind Kind, keys []string) ([]Row, []*Notice, error) {
	reg := c.registries[kind]
	if len(keys) == 0 {
		keys = reg.Selected()
	}
	added, notices, err := reg.BulkAdd(c.visit.Scope, keys)
	if err != nil {
		return nil, nil, err
	}
	for _, n := range notices {
		if n.Kind == NoticeDuplicate {
			c.recorder.ObserveDuplicates(string(kind), len(n.Entities))
		}
	}
	return added, notices, nil
}

// AddCustom adds a user-authored row. The entry is persisted to the catalog
// first so it is selectable in later sessions; if that fails nothing changes.
func (c *Coordinator) AddCustom(ctx context.Context, kind Kind, in CustomInput) (Row, *Notice, error) {
	reg := c.registries[kind]
	notice, err := reg.CheckCustom(c.visit.Scope, in)
	if err != nil {
		return Row{}, nil, err
	}
	if notice != nil {
		c.recorder.ObserveDuplicates(string(kind), 1)
		return Row{}, notice, nil
	}

	persisted, err := c.catalogs.Create(ctx, c.visit.Scope, kind, in.Option())
	if errors.Is(err, ErrCatalogConflict) {
		c.recorder.ObserveDuplicates(string(kind), 1)
		return Row{}, &Notice{Kind: NoticeDuplicate, Entity: kind, Entities: []string{in.Description}}, nil
	}
	if err != nil {
		c.logger.Error("failed to persist custom entry", zap.String("kind", string(kind)), zap.Error(err))
		return Row{}, nil, errors.Wrapf(err, "failed to add custom %s", kind)
	}
	row, notice, err := reg.AddCustom(c.visit.Scope, in, &persisted)
	if notice != nil {
		c.recorder.ObserveDuplicates(string(kind), 1)
	}
	return row, notice, err
}

// Remove deletes the row with key from kind.
func (c *Coordinator) Remove(kind Kind, key string) (bool, error) {
	if err := c.visit.Scope.validate(); err != nil {
		return false, err
	}
	return c.registries[kind].Remove(key), nil
}

// UpdateField edits a freeform field of one row.
func (c *Coordinator) UpdateField(kind Kind, id string, field Field, value string) (Row, error) {
	if err := c.visit.Scope.validate(); err != nil {
		return Row{}, err
	}
	return c.registries[kind].UpdateField(id, field, value)
}

// Snapshot is a read-only view of a visit session.
type Snapshot struct {
	Visit                VisitRef          `json:"visit"`
	Rows                 map[Kind][]Row    `json:"rows"`
	Selected             map[Kind][]string `json:"selected"`
	Fields               map[string]any    `json:"fields"`
	LockedBySave         map[Kind]bool     `json:"locked_by_save"`
	ComplaintsFromServer bool              `json:"complaints_from_server"`
	Submitting           bool              `json:"submitting"`
}

// Snapshot captures the current state of every registry.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Visit:                c.visit,
		Rows:                 make(map[Kind][]Row, len(Kinds)),
		Selected:             make(map[Kind][]string, len(Kinds)),
		Fields:               make(map[string]any, len(c.fields)),
		LockedBySave:         make(map[Kind]bool, len(Kinds)),
		ComplaintsFromServer: c.complaintsFromServer,
		Submitting:           c.submitting.Load(),
	}
	for _, k := range Kinds {
		s.Rows[k] = c.registries[k].Rows()
		if k.TracksSelection() {
			s.Selected[k] = c.registries[k].Selected()
		}
		s.LockedBySave[k] = c.gate.Locked(k)
	}
	for name, v := range c.fields {
		s.Fields[name] = v
	}
	return s
}
