package clinical

import "fmt"

// Kind identifies one of the list-type entities captured on a visit.
type Kind string

const (
	KindComplaint     Kind = "complaint"
	KindDiagnosis     Kind = "diagnosis"
	KindMedicine      Kind = "medicine"
	KindPrescription  Kind = "prescription"
	KindInvestigation Kind = "investigation"
)

// Kinds lists every entity kind in display order.
var Kinds = []Kind{KindComplaint, KindDiagnosis, KindMedicine, KindPrescription, KindInvestigation}

// ParseKind accepts the URL spelling of a kind, singular or plural.
func ParseKind(s string) (Kind, error) {
	switch Normalize(s) {
	case "complaint", "complaints":
		return KindComplaint, nil
	case "diagnosis", "diagnoses":
		return KindDiagnosis, nil
	case "medicine", "medicines":
		return KindMedicine, nil
	case "prescription", "prescriptions":
		return KindPrescription, nil
	case "investigation", "investigations":
		return KindInvestigation, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// TracksSelection reports whether the kind keeps a parallel "currently selected" set.
// Prescriptions are entered directly and have none.
func (k Kind) TracksSelection() bool {
	return k != KindPrescription
}

// Field names a freeform, in-place editable column of a row.
type Field string

const (
	FieldDuration    Field = "duration"
	FieldComment     Field = "comment"
	FieldMorning     Field = "morning"
	FieldAfternoon   Field = "afternoon"
	FieldNight       Field = "night"
	FieldDays        Field = "days"
	FieldInstruction Field = "instruction"
)

var editableFields = map[Kind][]Field{
	KindComplaint:    {FieldDuration, FieldComment},
	KindMedicine:     {FieldMorning, FieldAfternoon, FieldNight, FieldDays, FieldInstruction},
	KindPrescription: {FieldMorning, FieldAfternoon, FieldNight, FieldDays, FieldInstruction},
}

// Editable reports whether field may be edited on rows of kind k.
func (k Kind) Editable(field Field) bool {
	for _, f := range editableFields[k] {
		if f == field {
			return true
		}
	}
	return false
}

// Row is the canonical shape of one entity row, shared by all kinds.
// Fields that do not apply to a kind stay empty.
type Row struct {
	ID       string `json:"id" bson:"id"`
	Key      string `json:"key" bson:"key"`
	Code     string `json:"code,omitempty" bson:"code,omitempty"`
	Label    string `json:"label" bson:"label"`
	Priority int    `json:"priority" bson:"priority"`

	// complaints
	Duration string `json:"duration,omitempty" bson:"duration,omitempty"`
	Comment  string `json:"comment,omitempty" bson:"comment,omitempty"`

	// medicines and prescriptions
	Morning     string `json:"morning,omitempty" bson:"morning,omitempty"`
	Afternoon   string `json:"afternoon,omitempty" bson:"afternoon,omitempty"`
	Night       string `json:"night,omitempty" bson:"night,omitempty"`
	Days        string `json:"days,omitempty" bson:"days,omitempty"`
	Instruction string `json:"instruction,omitempty" bson:"instruction,omitempty"`
}

// Identity returns the pair used for duplicate detection.
func (r Row) Identity() Identity {
	return Identity{Key: r.Key, Label: r.Label}
}

func (r *Row) set(field Field, value string) {
	switch field {
	case FieldDuration:
		r.Duration = value
	case FieldComment:
		r.Comment = value
	case FieldMorning:
		r.Morning = value
	case FieldAfternoon:
		r.Afternoon = value
	case FieldNight:
		r.Night = value
	case FieldDays:
		r.Days = value
	case FieldInstruction:
		r.Instruction = value
	}
}

// KeyFor derives the normalized identity from a short code, falling back to the label.
func KeyFor(code, label string) string {
	if k := Normalize(code); k != "" {
		return k
	}
	return Normalize(label)
}

// Scope carries the identifiers every mutation needs.
type Scope struct {
	DoctorID string `json:"doctor_id"`
	ClinicID string `json:"clinic_id"`
}

func (s Scope) validate() error {
	if s.DoctorID == "" || s.ClinicID == "" {
		return ErrMissingContext
	}
	return nil
}

// VisitRef addresses a single visit.
type VisitRef struct {
	Scope
	PatientID   string `json:"patient_id"`
	ShiftID     string `json:"shift_id"`
	VisitNumber int    `json:"visit_number"`
}

func (v VisitRef) validate() error {
	if err := v.Scope.validate(); err != nil {
		return err
	}
	if v.PatientID == "" {
		return ErrMissingContext
	}
	return nil
}
