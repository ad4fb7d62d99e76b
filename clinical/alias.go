package clinical

import (
	"strconv"
	"strings"
)

// Aliases is an ordered list of backend spellings for one logical field.
// The first key that is present and non-null wins.
type Aliases []string

// Lookup returns the first present, non-null value.
func (a Aliases) Lookup(payload map[string]any) (any, bool) {
	for _, k := range a {
		if v, ok := payload[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first alias holding a usable scalar, as text.
func (a Aliases) String(payload map[string]any) string {
	v, ok := a.Lookup(payload)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// Int returns the first alias holding a number, or nil.
func (a Aliases) Int(payload map[string]any) *int {
	v, ok := a.Lookup(payload)
	if !ok {
		return nil
	}
	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int32:
		n = int(t)
	case int64:
		n = int(t)
	case float64:
		n = int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

// kindArrayAliases locates each kind's row array in a visit detail or save response.
var kindArrayAliases = map[Kind]Aliases{
	KindComplaint:     {"complaintRows", "complaints", "visitComplaints", "complaint_rows", "patientComplaints"},
	KindDiagnosis:     {"diagnosisRows", "diagnoses", "visitDiagnoses", "diagnosis_rows", "provisionalDiagnoses"},
	KindMedicine:      {"medicineRows", "medicines", "visitMedicines", "medicine_rows"},
	KindPrescription:  {"prescriptionRows", "prescriptions", "visitPrescriptions", "prescription_rows", "newPrescriptions"},
	KindInvestigation: {"investigationRows", "investigations", "visitInvestigations", "investigation_rows", "labInvestigations"},
}

// ArrayField is the spelling used when writing kind's rows back to the store.
func ArrayField(kind Kind) string {
	return kindArrayAliases[kind][0]
}

// complaintTextAliases locates the free-text complaint field.
var complaintTextAliases = Aliases{"currentComplaint", "current_complaint", "complaintText", "chiefComplaint", "currentComplaints"}

// rowAliases reads the canonical row fields out of one untyped row.
var rowAliases = struct {
	ID, Code, Label, Priority                    Aliases
	Duration, Comment                            Aliases
	Morning, Afternoon, Night, Days, Instruction Aliases
}{
	ID:          Aliases{"id", "rowId", "row_id", "_id"},
	Code:        Aliases{"shortDescription", "short_description", "shortCode", "short_code", "code", "value"},
	Label:       Aliases{"label", "description", "desc", "name", "complaintDescription", "diagnosisDescription", "medicineName", "investigationName", "prescriptionName", "brandName"},
	Priority:    Aliases{"priority", "priorityValue", "priority_value", "displayOrder", "sequence"},
	Duration:    Aliases{"duration", "since", "complaintDuration"},
	Comment:     Aliases{"comment", "comments", "complaintComment", "remarks"},
	Morning:     Aliases{"morning", "dosageMorning", "b"},
	Afternoon:   Aliases{"afternoon", "dosageAfternoon", "l"},
	Night:       Aliases{"night", "dosageNight", "d"},
	Days:        Aliases{"days", "noOfDays", "no_of_days", "duration_days"},
	Instruction: Aliases{"instruction", "instructions", "advice", "howToTake"},
}

// optionAliases reads one catalog entry.
var optionAliases = struct{ Value, Label, Priority Aliases }{
	Value:    Aliases{"value", "key", "shortDescription", "short_description", "code", "id"},
	Label:    Aliases{"label", "description", "name", "desc"},
	Priority: Aliases{"priority", "priorityValue", "priority_value", "displayOrder"},
}

// uiFieldAliases resolves the non-row visit fields the screen shows.
var uiFieldAliases = map[string]Aliases{
	"complaintText": complaintTextAliases,
	"followUp":      {"followUp", "follow_up", "followUpDate", "followUpType"},
	"remarks":       {"remarks", "visitRemarks", "visit_remarks", "visitComments"},
	"instructions":  {"instructions", "instructionText", "advice"},
	"visitType":     {"visitType", "visit_type", "visitTypeId"},
}
