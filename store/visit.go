package store

import (
	"context"
	"strings"
	"time"

	"github.com/3moredev/climasys/clinical"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const visitsCollection = "visits"

// VisitStore keeps one document per visit in MongoDB. It answers detail
// fetches and saves for the reconciliation coordinator.
type VisitStore struct {
	visits *mongo.Collection
	logger *zap.Logger
	now    func() time.Time
}

// NewVisitStore creates a VisitStore over the visits collection of db.
func NewVisitStore(db *mongo.Database, logger *zap.Logger) *VisitStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitStore{
		visits: db.Collection(visitsCollection),
		logger: logger,
		now:    time.Now,
	}
}

func visitFilter(v clinical.VisitRef) bson.M {
	return bson.M{
		"doctor_id":    v.DoctorID,
		"clinic_id":    v.ClinicID,
		"patient_id":   v.PatientID,
		"shift_id":     v.ShiftID,
		"visit_number": v.VisitNumber,
	}
}

// GetDetails loads the stored visit. A visit never saved is reported as not found.
func (s *VisitStore) GetDetails(ctx context.Context, visit clinical.VisitRef) (clinical.Details, error) {
	var doc bson.M
	err := s.visits.FindOne(ctx, visitFilter(visit)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return clinical.Details{Found: false}, nil
		}
		return clinical.Details{}, errors.Wrap(err, "failed to find visit")
	}
	return clinical.Details{Found: true, Payload: plainMap(doc)}, nil
}

// Save upserts the visit and answers with the stored document, which carries
// the canonical rows of every kind.
func (s *VisitStore) Save(ctx context.Context, payload clinical.SavePayload) (clinical.SaveResult, error) {
	now := s.now()
	update := bson.M{
		"$set":         saveDocument(payload, now),
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc bson.M
	err := s.visits.FindOneAndUpdate(ctx, visitFilter(payload.Visit), update, opts).Decode(&doc)
	if err != nil {
		s.logger.Error("failed to save visit",
			zap.String("patient_id", payload.Visit.PatientID),
			zap.Error(err))
		return clinical.SaveResult{}, errors.Wrap(err, "failed to save visit")
	}

	s.logger.Debug("visit saved",
		zap.String("patient_id", payload.Visit.PatientID),
		zap.Int("visit_number", payload.Visit.VisitNumber))
	return clinical.SaveResult{Success: true, Payload: plainMap(doc)}, nil
}

// reservedField reports whether a client field name would reach an operator,
// a nested path, the visit identity or a store-managed field.
func reservedField(name string) bool {
	if name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
		return true
	}
	switch name {
	case "_id", "created_at", "updated_at":
		return true
	}
	if _, ok := visitFilter(clinical.VisitRef{})[name]; ok {
		return true
	}
	for _, kind := range clinical.Kinds {
		if name == clinical.ArrayField(kind) {
			return true
		}
	}
	return false
}

// saveDocument builds the $set document. Rows only reach the document
// through payload.Rows; reserved client fields are dropped.
func saveDocument(payload clinical.SavePayload, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	for name, v := range payload.Fields {
		if reservedField(name) {
			continue
		}
		set[name] = v
	}
	for kind, rows := range payload.Rows {
		if rows == nil {
			rows = []map[string]any{}
		}
		set[clinical.ArrayField(kind)] = rows
	}
	return set
}

// plainMap converts a decoded document into plain maps and slices, the shape
// the clinical mapping layer reads.
func plainMap(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		return plainMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plain(t[i])
		}
		return out
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	}
	if m, ok := v.(map[string]any); ok {
		return plainMap(m)
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i := range list {
			out[i] = plain(list[i])
		}
		return out
	}
	return v
}
