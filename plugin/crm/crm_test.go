package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchByContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+79001234567", body["phone"])
		w.Write([]byte(`{"records":[{"id":"crm-1","last_name":"Иванов","phone":"+79001234567"}]}`))
	}))
	defer srv.Close()

	record, err := NewClient(srv.URL, "secret").SearchByContact(context.Background(), "+79001234567", "")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "crm-1", record.ID)
}

func TestSearchByContactNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	record, err := NewClient(srv.URL, "secret").SearchByContact(context.Background(), "", "ivanov@example.com")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestCreateLead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads", r.URL.Path)
		var payload LeadPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Иванов", payload.LastName)
		assert.Equal(t, "TG", payload.FirstCommunicationChannel)
		w.Write([]byte(`{"id":"crm-42"}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "secret").CreateLead(context.Background(), &LeadPayload{
		LastName:                  "Иванов",
		FirstCommunicationChannel: "TG",
		Phone:                     "+79001234567",
	})
	require.NoError(t, err)
	assert.Equal(t, "crm-42", id)
}

func TestAddNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads/crm-42/notes", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "повторное обращение", body["content"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "secret").AddNote(context.Background(), "crm-42", "повторное обращение")
	require.NoError(t, err)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := NewClient(srv.URL, "secret").CreateLead(context.Background(), &LeadPayload{LastName: "Иванов"})
		srv.Close()

		require.Error(t, err)
		var crmErr *Error
		require.ErrorAs(t, err, &crmErr, "status %d", tt.status)
		assert.Equal(t, tt.status, crmErr.StatusCode)
		assert.Equal(t, tt.transient, IsTransient(err), "status %d", tt.status)
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	_, err := NewClient(srv.URL, "secret").CreateLead(context.Background(), &LeadPayload{LastName: "Иванов"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(nil))
}
