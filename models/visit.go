package models

import (
	"github.com/3moredev/climasys/clinical"
	"github.com/3moredev/climasys/printing"
)

type OpenVisitRequest struct {
	PatientID   string `json:"patient_id" validate:"required,max=64"`
	ShiftID     string `json:"shift_id" validate:"max=64"`
	VisitNumber int    `json:"visit_number" validate:"min=0"`
}

type SelectionRequest struct {
	Keys []string `json:"keys" validate:"max=500,dive,max=255"`
}

type BulkAddRequest struct {
	Keys []string `json:"keys" validate:"max=500,dive,required,max=255"`
}

type UpdateFieldRequest struct {
	Field string `json:"field" validate:"required,oneof=duration comment morning afternoon night days instruction"`
	Value string `json:"value" validate:"max=255"`
}

type SaveRequest struct {
	Fields map[string]any `json:"fields"`
}

type PrintRequest struct {
	Primary   printing.Document `json:"primary"`
	Secondary printing.Document `json:"secondary"`
}

type OpenVisitResponse struct {
	SessionID     string            `json:"session_id"`
	Fetch         string            `json:"fetch"`
	FetchError    string            `json:"fetch_error,omitempty"`
	CatalogErrors map[string]string `json:"catalog_errors,omitempty"`
	Visit         clinical.Snapshot `json:"visit"`
}

type MutationResponse struct {
	Rows    []clinical.Row     `json:"rows"`
	Added   []clinical.Row     `json:"added,omitempty"`
	Notices []*clinical.Notice `json:"notices,omitempty"`
}
