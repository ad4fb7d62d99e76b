package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/3moredev/climasys/clinical"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

// withScope stands in for the auth middleware. X-Clinic: none drops the clinic.
func withScope(c *fiber.Ctx) error {
	clinic := c.Get("X-Clinic", "CL-1")
	if clinic == "none" {
		clinic = ""
	}
	c.Locals("doctorID", c.Get("X-Doctor", "DR-1"))
	c.Locals("clinicID", clinic)
	return c.Next()
}

func intp(v int) *int { return &v }

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type stubCatalogs struct {
	mu        sync.Mutex
	options   map[clinical.Kind][]clinical.Option
	createErr error
	searchErr error
	searches  []string
}

func (s *stubCatalogs) List(ctx context.Context, scope clinical.Scope, kind clinical.Kind) ([]clinical.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]clinical.Option(nil), s.options[kind]...), nil
}

func (s *stubCatalogs) Create(ctx context.Context, scope clinical.Scope, kind clinical.Kind, opt clinical.Option) (clinical.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return clinical.Option{}, s.createErr
	}
	s.options[kind] = append(s.options[kind], opt)
	return opt, nil
}

func (s *stubCatalogs) Search(ctx context.Context, scope clinical.Scope, kind clinical.Kind, term string, limit int) ([]clinical.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, scope.DoctorID+"|"+string(kind)+"|"+term)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	var out []clinical.Option
	for _, o := range s.options[kind] {
		if len(out) < limit && strings.Contains(strings.ToLower(o.Label), strings.ToLower(term)) {
			out = append(out, o)
		}
	}
	return out, nil
}

type stubVisits struct {
	mu      sync.Mutex
	details clinical.Details
	saveErr error
	saved   []clinical.SavePayload
	fetches int
}

func (s *stubVisits) GetDetails(ctx context.Context, visit clinical.VisitRef) (clinical.Details, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return s.details, nil
}

func (s *stubVisits) Save(ctx context.Context, p clinical.SavePayload) (clinical.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return clinical.SaveResult{}, s.saveErr
	}
	s.saved = append(s.saved, p)
	rows := make([]any, 0, len(p.Rows[clinical.KindComplaint]))
	for _, r := range p.Rows[clinical.KindComplaint] {
		rows = append(rows, r)
	}
	return clinical.SaveResult{Success: true, Payload: map[string]any{"complaintRows": rows}}, nil
}

func (s *stubVisits) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}
