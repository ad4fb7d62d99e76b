package clinical

import (
	"fmt"
	"strings"
)

// Details is the answer of a visit detail fetch. Payload is untyped; rows are
// read from it through the alias tables, never used as-is.
type Details struct {
	Found   bool
	Payload map[string]any
}

// SavePayload is what the core hands to the Saver.
type SavePayload struct {
	Visit  VisitRef                  `json:"visit"`
	Rows   map[Kind][]map[string]any `json:"rows"`
	Fields map[string]any            `json:"fields,omitempty"`
}

// SaveResult is the Saver's answer. Payload may carry canonical rows per kind.
type SaveResult struct {
	Success bool
	Payload map[string]any
}

// KindRows extracts the rows of kind from an untyped payload. ok is false when
// the payload has no array for kind at all, which means "leave rows alone";
// an empty array yields ok with zero rows, which means "clear".
func KindRows(kind Kind, payload map[string]any) ([]Row, bool) {
	v, ok := kindArrayAliases[kind].Lookup(payload)
	if !ok {
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		if typed, isRows := v.([]map[string]any); isRows {
			items = make([]any, len(typed))
			for i := range typed {
				items[i] = typed[i]
			}
		} else {
			return nil, false
		}
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if row, ok := RowFromPayload(kind, obj); ok {
			rows = append(rows, row)
		}
	}
	return rows, true
}

// RowFromPayload maps one untyped row into the canonical shape.
func RowFromPayload(kind Kind, obj map[string]any) (Row, bool) {
	row := Row{
		ID:    rowAliases.ID.String(obj),
		Code:  rowAliases.Code.String(obj),
		Label: rowAliases.Label.String(obj),
	}
	if kind == KindComplaint && row.Label != "" {
		// complaints sometimes arrive encoded as "Name (Comment)"
		if name, comment := ParseComplaint(row.Label); comment != "" {
			row.Label = name
			row.Comment = comment
		}
	}
	if row.Label == "" {
		row.Label = row.Code
	}
	row.Key = KeyFor(row.Code, row.Label)
	if row.Key == "" {
		return Row{}, false
	}
	row.Priority = priorityOr(rowAliases.Priority.Int(obj))

	switch kind {
	case KindComplaint:
		row.Duration = rowAliases.Duration.String(obj)
		if c := rowAliases.Comment.String(obj); c != "" {
			row.Comment = c
		}
	case KindMedicine, KindPrescription:
		row.Morning = rowAliases.Morning.String(obj)
		row.Afternoon = rowAliases.Afternoon.String(obj)
		row.Night = rowAliases.Night.String(obj)
		row.Days = rowAliases.Days.String(obj)
		row.Instruction = rowAliases.Instruction.String(obj)
	}
	return row, true
}

// OptionsFromPayload maps an untyped catalog listing into options.
func OptionsFromPayload(items []map[string]any) []Option {
	out := make([]Option, 0, len(items))
	for _, obj := range items {
		o := Option{
			Value:    optionAliases.Value.String(obj),
			Label:    optionAliases.Label.String(obj),
			Priority: optionAliases.Priority.Int(obj),
		}
		if o.Label == "" {
			o.Label = o.Value
		}
		if o.Key() == "" {
			continue
		}
		out = append(out, o)
	}
	return out
}

// PayloadRow maps a row into the minimal server-facing shape for kind.
func PayloadRow(kind Kind, r Row) map[string]any {
	out := map[string]any{
		"id":                r.ID,
		"short_description": r.Code,
		"description":       r.Label,
		"priority":          r.Priority,
	}
	switch kind {
	case KindComplaint:
		out["duration"] = r.Duration
		out["comment"] = r.Comment
	case KindMedicine, KindPrescription:
		out["morning"] = r.Morning
		out["afternoon"] = r.Afternoon
		out["night"] = r.Night
		out["days"] = r.Days
		out["instruction"] = r.Instruction
	}
	return out
}

// EncodeComplaints renders complaint rows into the free-text field format,
// "Name (Comment)" joined by commas.
func EncodeComplaints(rows []Row) string {
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Comment != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", r.Label, r.Comment))
			continue
		}
		parts = append(parts, r.Label)
	}
	return strings.Join(parts, ", ")
}

// UIFields resolves the non-row visit fields through their alias tables.
func UIFields(payload map[string]any) map[string]any {
	out := make(map[string]any, len(uiFieldAliases))
	for name, aliases := range uiFieldAliases {
		if v, ok := aliases.Lookup(payload); ok {
			out[name] = v
		}
	}
	return out
}
