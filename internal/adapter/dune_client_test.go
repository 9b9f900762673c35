package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holdings-tracker/internal/config"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/retry"
	"github.com/holdings-tracker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newDuneTestServer(t *testing.T, finalState string) (*httptest.Server, *int32) {
	t.Helper()
	var statusCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/query/42/execute", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Dune-Api-Key"))
		var body struct {
			QueryParameters map[string]string `json:"query_parameters"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xabc", body.QueryParameters["address"])
		_, _ = fmt.Fprint(w, `{"execution_id":"ex1","state":"QUERY_STATE_PENDING"}`)
	})
	mux.HandleFunc("/execution/ex1/status", func(w http.ResponseWriter, r *http.Request) {
		state := "QUERY_STATE_EXECUTING"
		if atomic.AddInt32(&statusCalls, 1) > 1 {
			state = finalState
		}
		_, _ = fmt.Fprintf(w, `{"execution_id":"ex1","state":%q}`, state)
	})
	mux.HandleFunc("/execution/ex1/results", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("offset") {
		case "0":
			_, _ = fmt.Fprint(w, `{"execution_id":"ex1","state":"QUERY_STATE_COMPLETED","next_offset":2,"result":{"rows":[
				{"block_time":"2023-01-05 10:00:00.000 UTC","contract_address":"0xAA","category":"to","value":100000000000000000000123,"decimals":18,"symbol":"AAA","token_name":"Token A"},
				{"block_time":"2023-02-05 10:00:00.000 UTC","contract_address":"0xaa","category":"from","value":"30","decimals":null}
			]}}`)
		case "2":
			_, _ = fmt.Fprint(w, `{"execution_id":"ex1","state":"QUERY_STATE_COMPLETED","result":{"rows":[
				{"time":"2023-03-01","contract_address":"0xbb","category":"to","value":"1","decimal":"6"}
			]}}`)
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &statusCalls
}

func newTestDuneClient(baseURL string) *DuneClient {
	return NewDuneClient(config.DuneConfig{
		APIKey:       "secret",
		BaseURL:      baseURL,
		PollInterval: time.Millisecond,
		PageSize:     2,
	}, "0xabc", fastRetry())
}

func TestDuneClient_FetchTransfers(t *testing.T) {
	srv, statusCalls := newDuneTestServer(t, DuneStateCompleted)
	client := newTestDuneClient(srv.URL)

	events, err := client.FetchTransfers(context.Background(), types.ChainEthereum, 42)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.EqualValues(t, 2, atomic.LoadInt32(statusCalls))

	first := events[0]
	assert.Equal(t, 1, first.Line)
	assert.Equal(t, "2023-01-05 10:00:00.000 UTC", first.Time)
	assert.Equal(t, "0xAA", first.ContractAddress)
	assert.Equal(t, "to", first.Category)
	// large integers survive decoding untouched
	assert.Equal(t, "100000000000000000000123", first.Value)
	assert.Equal(t, "18", first.Decimal)
	assert.Equal(t, "AAA", first.Ticker)
	assert.Equal(t, "Token A", first.Token)

	assert.Equal(t, "", events[1].Decimal)
	assert.Equal(t, "6", events[2].Decimal)
	assert.Equal(t, 3, events[2].Line)
}

func TestDuneClient_FailedExecution(t *testing.T) {
	srv, _ := newDuneTestServer(t, DuneStateFailed)
	client := newTestDuneClient(srv.URL)

	_, err := client.FetchTransfers(context.Background(), types.ChainEthereum, 42)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryProvider))
	assert.Contains(t, err.Error(), DuneStateFailed)
}

func TestDuneClient_MissingQueryID(t *testing.T) {
	client := newTestDuneClient("http://127.0.0.1:0")

	_, err := client.FetchTransfers(context.Background(), types.ChainFantom, 0)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
}

func TestDuneClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, `{"execution_id":"ex9"}`)
	}))
	defer srv.Close()

	id, err := newTestDuneClient(srv.URL).ExecuteQuery(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "ex9", id)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDuneClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestDuneClient(srv.URL).ExecuteQuery(context.Background(), 7)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
