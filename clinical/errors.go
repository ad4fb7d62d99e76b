package clinical

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMissingContext means a doctor, clinic or patient identifier was absent.
	ErrMissingContext = errors.New("missing doctor, clinic or patient context")
	// ErrRowNotFound is returned by UpdateField for an unknown row id.
	ErrRowNotFound = errors.New("row not found")
	// ErrFieldNotEditable is returned when a field does not apply to the kind.
	ErrFieldNotEditable = errors.New("field is not editable for this kind")
	// ErrSaveInProgress rejects a save while another is in flight.
	ErrSaveInProgress = errors.New("a save is already in progress")
	// ErrSaveRejected means the backend answered success == false.
	ErrSaveRejected = errors.New("save was not accepted")
	// ErrCatalogConflict is returned by a CatalogSource when the option already exists.
	ErrCatalogConflict = errors.New("catalog entry already exists")
	// ErrSessionNotFound is returned for unknown or closed visit sessions.
	ErrSessionNotFound = errors.New("visit session not found")
)

// ValidationError blocks one add or save action; editing may continue.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NoticeKind classifies a transient, dismissible notice.
type NoticeKind string

const (
	NoticeDuplicate NoticeKind = "duplicate"
	NoticeUnknown   NoticeKind = "unknown_option"
)

// Notice reports a user-facing no-op, such as skipped duplicates. It is not an error.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Entity   Kind       `json:"entity"`
	Entities []string   `json:"entities"`
}

func (n *Notice) String() string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case NoticeDuplicate:
		return fmt.Sprintf("already added: %s", strings.Join(n.Entities, ", "))
	default:
		return fmt.Sprintf("not found in catalog: %s", strings.Join(n.Entities, ", "))
	}
}
