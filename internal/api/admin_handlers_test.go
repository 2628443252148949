package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// CreateRole and UpdateRole validate their request body before ever
// touching storage, so those paths can be exercised without a database.
func TestCreateRole_RejectsEmptyName(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/roles", bytes.NewBufferString(`{"name":""}`))
	rec := httptest.NewRecorder()

	s.CreateRole(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRole_RejectsMalformedJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/roles", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()

	s.CreateRole(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRole_RejectsMissingRoleID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPatch, "/admin/roles/", bytes.NewBufferString(`{"permissions":["read"]}`))
	rec := httptest.NewRecorder()

	s.UpdateRole(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignRole_RejectsMissingUserID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/roles/x/assign", bytes.NewBufferString(`{}`))
	// A valid role id in the route, so the missing user id is what is rejected.
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", uuid.NewString())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()

	s.AssignRole(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
