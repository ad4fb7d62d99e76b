package clinical

import (
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Source tags where a Load came from.
type Source string

const (
	SourceFetch   Source = "fetch"
	SourceRebuild Source = "rebuild"
	SourceSave    Source = "save"
)

const (
	maxCodeLength  = 64
	maxLabelLength = 255
)

// IDSource hands out locally generated row ids.
type IDSource interface {
	GenerateID() (string, error)
}

type uuidIDs struct{}

func (uuidIDs) GenerateID() (string, error) { return uuid.NewString(), nil }

// CustomInput is a user-authored entry for AddCustom.
type CustomInput struct {
	ShortDescription string `json:"short_description" validate:"max=64"`
	Description      string `json:"description" validate:"max=255"`
	Priority         *int   `json:"priority,omitempty"`

	Duration    string `json:"duration,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Morning     string `json:"morning,omitempty"`
	Afternoon   string `json:"afternoon,omitempty"`
	Night       string `json:"night,omitempty"`
	Days        string `json:"days,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// Option converts the input into the catalog entry it would mirror as.
func (in CustomInput) Option() Option {
	return Option{Value: in.ShortDescription, Label: in.Description, Priority: in.Priority}
}

func (in CustomInput) value(field string) string {
	switch field {
	case "short_description":
		return in.ShortDescription
	case "description":
		return in.Description
	case "days":
		return in.Days
	case "instruction":
		return in.Instruction
	}
	return ""
}

// requiredCustomFields lists which sub-fields a custom entry must carry, per kind.
var requiredCustomFields = map[Kind][]string{
	KindComplaint:     {"short_description", "description"},
	KindDiagnosis:     {"short_description", "description"},
	KindMedicine:      {"short_description", "description"},
	KindPrescription:  {"description"},
	KindInvestigation: {"short_description", "description"},
}

// Registry owns the authoritative row list of one entity kind.
type Registry struct {
	mu       sync.Mutex
	kind     Kind
	rows     []Row
	selected []string
	catalog  *Catalog
	ids      IDSource
	logger   *zap.Logger
}

// NewRegistry creates an empty registry for kind backed by catalog.
func NewRegistry(kind Kind, catalog *Catalog, ids IDSource, logger *zap.Logger) *Registry {
	if catalog == nil {
		catalog = NewCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = uuidIDs{}
	}
	return &Registry{
		kind:    kind,
		catalog: catalog,
		ids:     ids,
		logger:  logger,
	}
}

func (r *Registry) Kind() Kind { return r.kind }

func (r *Registry) Catalog() *Catalog { return r.catalog }

// Rows returns the rows in priority order.
func (r *Registry) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, len(r.rows))
	copy(out, r.rows)
	return out
}

// Len returns the number of rows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Load replaces the whole row set. An empty slice clears the registry.
// Rows without an id get one; later duplicates of an earlier key are dropped.
func (r *Registry) Load(rows []Row, source Source) error {
	next := make([]Row, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if row.Key == "" {
			row.Key = KeyFor(row.Code, row.Label)
		}
		if row.Key == "" || IsDuplicate(row.Identity(), next) {
			dropped++
			continue
		}
		if row.ID == "" {
			id, err := r.ids.GenerateID()
			if err != nil {
				return errors.Wrap(err, "failed to assign row id")
			}
			row.ID = id
		}
		next = append(next, row)
	}
	SortByPriority(next)

	r.mu.Lock()
	r.rows = next
	r.mu.Unlock()

	r.logger.Debug("registry loaded",
		zap.String("kind", string(r.kind)),
		zap.String("source", string(source)),
		zap.Int("rows", len(next)),
		zap.Int("dropped", dropped))
	return nil
}

// BulkAdd appends a row for each selected catalog key not already present.
// Duplicates and keys missing from the catalog are reported as notices. The
// selection set is cleared afterwards.
func (r *Registry) BulkAdd(scope Scope, keys []string) ([]Row, []*Notice, error) {
	if err := scope.validate(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		added      []Row
		duplicates []string
		unknown    []string
	)
	for _, key := range keys {
		opt, ok := r.catalog.Lookup(key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if IsDuplicate(opt.identity(), r.rows) || IsDuplicate(opt.identity(), added) {
			duplicates = append(duplicates, opt.Label)
			continue
		}
		id, err := r.ids.GenerateID()
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to assign row id")
		}
		added = append(added, opt.row(id))
	}

	// nothing is committed until every row has an id
	r.rows = append(r.rows, added...)
	SortByPriority(r.rows)
	r.selected = nil

	var notices []*Notice
	if len(duplicates) > 0 {
		notices = append(notices, &Notice{Kind: NoticeDuplicate, Entity: r.kind, Entities: duplicates})
	}
	if len(unknown) > 0 {
		notices = append(notices, &Notice{Kind: NoticeUnknown, Entity: r.kind, Entities: unknown})
	}
	return added, notices, nil
}

// CheckCustom validates a custom entry and checks it against both the live
// rows and the catalog. A non-nil notice means the entry is a duplicate.
func (r *Registry) CheckCustom(scope Scope, in CustomInput) (*Notice, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if err := r.validateCustom(in); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicateNoticeLocked(in), nil
}

func (r *Registry) duplicateNoticeLocked(in CustomInput) *Notice {
	id := in.Option().identity()
	if IsDuplicate(id, r.rows) || r.catalog.Contains(id) {
		label := in.Description
		if label == "" {
			label = in.ShortDescription
		}
		return &Notice{Kind: NoticeDuplicate, Entity: r.kind, Entities: []string{label}}
	}
	return nil
}

func (r *Registry) validateCustom(in CustomInput) error {
	for _, field := range requiredCustomFields[r.kind] {
		if in.value(field) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
	}
	if utf8.RuneCountInString(in.ShortDescription) > maxCodeLength {
		return &ValidationError{Field: "short_description", Message: "is too long"}
	}
	if utf8.RuneCountInString(in.Description) > maxLabelLength {
		return &ValidationError{Field: "description", Message: "is too long"}
	}
	return nil
}

// AddCustom validates, de-duplicates and appends a user-authored row, then
// mirrors it into the catalog. persisted carries what the catalog store
// answered, if anything; its priority wins over the input's.
func (r *Registry) AddCustom(scope Scope, in CustomInput, persisted *Option) (Row, *Notice, error) {
	if err := scope.validate(); err != nil {
		return Row{}, nil, err
	}
	if err := r.validateCustom(in); err != nil {
		return Row{}, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if persisted == nil {
		if n := r.duplicateNoticeLocked(in); n != nil {
			return Row{}, n, nil
		}
	} else if IsDuplicate(in.Option().identity(), r.rows) {
		// the store just accepted the option, only the rows are rechecked
		return Row{}, &Notice{Kind: NoticeDuplicate, Entity: r.kind, Entities: []string{in.Description}}, nil
	}

	opt := in.Option()
	if persisted != nil && persisted.Priority != nil {
		opt.Priority = persisted.Priority
	}
	id, err := r.ids.GenerateID()
	if err != nil {
		return Row{}, nil, errors.Wrap(err, "failed to assign row id")
	}
	row := opt.row(id)
	row.Duration = in.Duration
	row.Comment = in.Comment
	row.Morning = in.Morning
	row.Afternoon = in.Afternoon
	row.Night = in.Night
	row.Days = in.Days
	row.Instruction = in.Instruction

	r.rows = append(r.rows, row)
	SortByPriority(r.rows)
	r.catalog.Add(opt)
	return row, nil, nil
}

// Remove deletes the row with the given key and drops it from the selection set.
func (r *Registry) Remove(key string) bool {
	k := Normalize(key)
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.Key == k {
			removed = true
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	if r.kind.TracksSelection() {
		r.selected = without(r.selected, k)
	}
	return removed
}

// UpdateField edits one freeform field of a row in place.
func (r *Registry) UpdateField(id string, field Field, value string) (Row, error) {
	if !r.kind.Editable(field) {
		return Row{}, ErrFieldNotEditable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			r.rows[i].set(field, value)
			return r.rows[i], nil
		}
	}
	return Row{}, ErrRowNotFound
}

// SetSelection replaces the selection set with the given catalog keys.
func (r *Registry) SetSelection(keys []string) {
	if !r.kind.TracksSelection() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = nil
	for _, k := range keys {
		if n := Normalize(k); n != "" && !contains(r.selected, n) {
			r.selected = append(r.selected, n)
		}
	}
}

// Selected returns the current selection set.
func (r *Registry) Selected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.selected))
	copy(out, r.selected)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
