package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/3moredev/climasys/clinical"
	"github.com/3moredev/climasys/models"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type visitFixture struct {
	app      *fiber.App
	handler  *VisitHandler
	catalogs *stubCatalogs
	visits   *stubVisits
	sessions *clinical.Sessions
}

func newVisitFixture(t *testing.T) *visitFixture {
	t.Helper()
	f := &visitFixture{
		catalogs: &stubCatalogs{options: map[clinical.Kind][]clinical.Option{
			clinical.KindComplaint: {
				{Value: "C1", Label: "Fever", Priority: intp(1)},
				{Value: "C2", Label: "Cough", Priority: intp(2)},
			},
		}},
		visits: &stubVisits{},
	}
	f.sessions = clinical.NewSessions(clinical.Options{
		Catalogs: f.catalogs,
		Details:  f.visits,
		Saver:    f.visits,
		Retry:    clinical.RetryPolicy{Attempts: 1, Delay: time.Millisecond},
	})
	f.handler = NewVisitHandler(f.sessions, zap.NewNop())

	app := fiber.New()
	visits := app.Group("/api/visits/sessions", withScope)
	visits.Post("/", f.handler.OpenSession)
	visits.Get("/:id", f.handler.GetSession)
	visits.Delete("/:id", f.handler.CloseSession)
	visits.Post("/:id/refresh", f.handler.Refresh)
	visits.Post("/:id/save", f.handler.Save)
	visits.Post("/:id/catalogs/:kind/reload", f.handler.ReloadCatalog)
	visits.Put("/:id/:kind/selection", f.handler.SetSelection)
	visits.Post("/:id/:kind/bulk", f.handler.BulkAdd)
	visits.Post("/:id/:kind/custom", f.handler.AddCustom)
	visits.Delete("/:id/:kind/rows/:key", f.handler.RemoveRow)
	visits.Patch("/:id/:kind/rows/:rowID", f.handler.UpdateField)
	f.app = app
	return f
}

func (f *visitFixture) open(t *testing.T) models.OpenVisitResponse {
	t.Helper()
	status, body := doJSON(t, f.app, http.MethodPost, "/api/visits/sessions",
		models.OpenVisitRequest{PatientID: "P-1", ShiftID: "S-1", VisitNumber: 1})
	require.Equal(t, http.StatusCreated, status, string(body))
	return decode[models.OpenVisitResponse](t, body)
}

func TestOpenSession(t *testing.T) {
	f := newVisitFixture(t)
	f.visits.details = clinical.Details{Found: true, Payload: map[string]any{
		"diagnosisRows": []any{map[string]any{"description": "Asthma"}},
	}}

	resp := f.open(t)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "applied", resp.Fetch)
	assert.Empty(t, resp.CatalogErrors)
	require.Len(t, resp.Visit.Rows[clinical.KindDiagnosis], 1)
	assert.Equal(t, "Asthma", resp.Visit.Rows[clinical.KindDiagnosis][0].Label)
	assert.Equal(t, "DR-1", resp.Visit.Visit.DoctorID)
	assert.Equal(t, 1, f.sessions.Len())
}

func TestOpenSessionValidation(t *testing.T) {
	f := newVisitFixture(t)
	status, body := doJSON(t, f.app, http.MethodPost, "/api/visits/sessions", map[string]any{"visit_number": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "Validation failed")

	status, _ = doJSON(t, f.app, http.MethodPost, "/api/visits/sessions",
		models.OpenVisitRequest{PatientID: "P-1"}, "X-Clinic", "none")
	assert.Equal(t, http.StatusBadRequest, status, "a missing clinic is a missing context")
	assert.Zero(t, f.sessions.Len())
}

func TestSessionIsScopedToCaller(t *testing.T) {
	f := newVisitFixture(t)
	id := f.open(t).SessionID

	status, _ := doJSON(t, f.app, http.MethodGet, "/api/visits/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, f.app, http.MethodGet, "/api/visits/sessions/"+id, nil, "X-Doctor", "DR-2")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SESSION_NOT_FOUND", decode[ErrorResponse](t, body).Code)

	status, _ = doJSON(t, f.app, http.MethodDelete, "/api/visits/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = doJSON(t, f.app, http.MethodGet, "/api/visits/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBulkAddAndSelection(t *testing.T) {
	f := newVisitFixture(t)
	base := "/api/visits/sessions/" + f.open(t).SessionID

	status, body := doJSON(t, f.app, http.MethodPut, base+"/complaints/selection", models.SelectionRequest{Keys: []string{"C2", "C1", "C9"}})
	require.Equal(t, http.StatusOK, status, string(body))

	// an empty body adds the selection
	status, body = doJSON(t, f.app, http.MethodPost, base+"/complaints/bulk", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	resp := decode[models.MutationResponse](t, body)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, "Fever", resp.Rows[0].Label, "rows follow catalog priority, not click order")
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, clinical.NoticeUnknown, resp.Notices[0].Kind)

	status, body = doJSON(t, f.app, http.MethodPost, base+"/complaints/bulk", models.BulkAddRequest{Keys: []string{"C1"}})
	require.Equal(t, http.StatusOK, status)
	resp = decode[models.MutationResponse](t, body)
	assert.Empty(t, resp.Added)
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, clinical.NoticeDuplicate, resp.Notices[0].Kind)

	status, body = doJSON(t, f.app, http.MethodPost, base+"/allergies/bulk", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNKNOWN_KIND", decode[ErrorResponse](t, body).Code)
}

func TestCustomRowEditAndRemove(t *testing.T) {
	f := newVisitFixture(t)
	base := "/api/visits/sessions/" + f.open(t).SessionID

	status, body := doJSON(t, f.app, http.MethodPost, base+"/complaints/custom",
		clinical.CustomInput{ShortDescription: "BP", Description: "Back pain"})
	require.Equal(t, http.StatusCreated, status, string(body))
	resp := decode[models.MutationResponse](t, body)
	require.Len(t, resp.Added, 1)
	row := resp.Added[0]
	assert.Equal(t, clinical.DefaultPriority, row.Priority)

	status, body = doJSON(t, f.app, http.MethodPost, base+"/complaints/custom",
		clinical.CustomInput{ShortDescription: "BP2", Description: "back pain"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[models.MutationResponse](t, body).Notices, 1)

	status, body = doJSON(t, f.app, http.MethodPost, base+"/medicines/custom",
		clinical.CustomInput{Description: "Paracetamol"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_FAILED", decode[ErrorResponse](t, body).Code)

	status, body = doJSON(t, f.app, http.MethodPatch, base+"/complaints/rows/"+row.ID,
		models.UpdateFieldRequest{Field: "comment", Value: "3 days"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "3 days", decode[clinical.Row](t, body).Comment)

	status, body = doJSON(t, f.app, http.MethodPatch, base+"/complaints/rows/"+row.ID,
		models.UpdateFieldRequest{Field: "days", Value: "3"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "FIELD_NOT_EDITABLE", decode[ErrorResponse](t, body).Code)

	status, _ = doJSON(t, f.app, http.MethodPatch, base+"/complaints/rows/nope",
		models.UpdateFieldRequest{Field: "comment", Value: "x"})
	assert.Equal(t, http.StatusNotFound, status)

	status, body = doJSON(t, f.app, http.MethodDelete, base+"/complaints/rows/bp", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"removed":true`)
}

func TestSaveAndBackgroundRefresh(t *testing.T) {
	f := newVisitFixture(t)
	base := "/api/visits/sessions/" + f.open(t).SessionID
	fetchesAfterOpen := f.visits.Fetches()

	status, _ := doJSON(t, f.app, http.MethodPost, base+"/complaints/bulk", models.BulkAddRequest{Keys: []string{"C1"}})
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, f.app, http.MethodPost, base+"/save", models.SaveRequest{Fields: map[string]any{"remarks": "ok"}})
	require.Equal(t, http.StatusOK, status, string(body))
	snap := decode[clinical.Snapshot](t, body)
	assert.True(t, snap.LockedBySave[clinical.KindComplaint])

	f.handler.Wait()
	assert.Equal(t, fetchesAfterOpen+1, f.visits.Fetches())

	require.Len(t, f.visits.saved, 1)
	assert.Equal(t, "Fever", f.visits.saved[0].Fields["currentComplaint"])
	assert.Equal(t, "ok", f.visits.saved[0].Fields["remarks"])

	f.visits.saveErr = errors.New("mongo unavailable")
	status, body = doJSON(t, f.app, http.MethodPost, base+"/save", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "UPSTREAM_FAILURE", decode[ErrorResponse](t, body).Code)
}

func TestRefreshAndReloadCatalog(t *testing.T) {
	f := newVisitFixture(t)
	base := "/api/visits/sessions/" + f.open(t).SessionID

	status, body := doJSON(t, f.app, http.MethodPost, base+"/refresh", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"fetch":"not_found"`)

	f.catalogs.options[clinical.KindMedicine] = []clinical.Option{{Value: "M1", Label: "Paracetamol"}}
	status, body = doJSON(t, f.app, http.MethodPost, base+"/catalogs/medicines/reload", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "Paracetamol")
}

func TestRemoveRowByLabelKeyWithSpaces(t *testing.T) {
	f := newVisitFixture(t)
	base := "/api/visits/sessions/" + f.open(t).SessionID

	status, body := doJSON(t, f.app, http.MethodPost, base+"/prescriptions/custom",
		clinical.CustomInput{Description: "Chest Pain Syrup", Days: "5"})
	require.Equal(t, http.StatusCreated, status, string(body))
	require.Equal(t, "chest pain syrup", decode[models.MutationResponse](t, body).Added[0].Key)

	status, body = doJSON(t, f.app, http.MethodDelete, base+"/prescriptions/rows/chest%20pain%20syrup", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"removed":true`)
	assert.Contains(t, string(body), `"rows":[]`)
}
