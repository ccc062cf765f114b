package schemaregistry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RegisterReturnsAssignedID(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/subjects/orders-value/versions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registerResponse{ID: 42})
	}))
	defer server.Close()

	c := New(server.URL, 0)
	id, err := c.Register("orders-value", []byte(`{"type":"record","name":"orders","fields":[]}`))
	require.NoError(t, err)
	assert.Equal(t, int32(42), id)
	assert.Equal(t, 1, calls)
}

func TestClient_RegisterCachesBySubjectAndSchema(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registerResponse{ID: 7})
	}))
	defer server.Close()

	c := New(server.URL, 0)
	schema := []byte(`{"type":"record","name":"orders","fields":[]}`)

	id1, err := c.Register("orders-value", schema)
	require.NoError(t, err)
	id2, err := c.Register("orders-value", schema)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, calls, "second call with identical schema must be served from cache")
}

func TestClient_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	c := New(server.URL, 0)
	_, err := c.Register("bad-value", []byte(`{}`))
	assert.Error(t, err)
}

func TestNoOp_AlwaysSucceeds(t *testing.T) {
	var r NoOp
	id, err := r.Register("anything", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), id)
}
