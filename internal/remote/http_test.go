package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet/inklet/internal/patch"
)

func newTestTransport(t *testing.T, srv *httptest.Server) *HTTPTransport {
	t.Helper()
	tr, err := NewHTTPTransport(srv.URL,
		WithFetchRetries(2),
		WithFetchRetryInterval(time.Millisecond),
	)
	require.NoError(t, err)
	return tr
}

func TestNewHTTPTransport_RejectsRelativeURL(t *testing.T) {
	_, err := NewHTTPTransport("not-a-url")
	assert.Error(t, err)
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/documents/doc-1", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		json.NewEncoder(w).Encode(DocumentResponse{ID: "doc-1", Content: "hello", Version: 7})
	}))
	defer srv.Close()

	res, err := newTestTransport(t, srv).Fetch(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, int64(7), res.Version)
}

func TestFetch_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "not_found"})
	}))
	defer srv.Close()

	_, err := newTestTransport(t, srv).Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), calls.Load(), "404 must not be retried")
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(DocumentResponse{ID: "doc-1", Content: "recovered", Version: 3})
	}))
	defer srv.Close()

	res, err := newTestTransport(t, srv).Fetch(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Content)
	assert.Equal(t, int64(2), calls.Load())
}

func TestSave_Success(t *testing.T) {
	codec := patch.NewCodec()
	p := codec.Diff("hello", "hello world")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/documents/doc-1", r.URL.Path)

		var req SaveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, p.Text(), req.Patch)
		assert.Equal(t, int64(4), req.ExpectedVersion)

		json.NewEncoder(w).Encode(SaveResponse{Version: 5})
	}))
	defer srv.Close()

	res, err := newTestTransport(t, srv).Save(context.Background(), "doc-1", p, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Version)
}

func TestSave_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ConflictResponse{
			Error:           "version_conflict",
			ExpectedVersion: 4,
			CurrentVersion:  9,
		})
	}))
	defer srv.Close()

	codec := patch.NewCodec()
	_, err := newTestTransport(t, srv).Save(context.Background(), "doc-1", codec.Diff("a", "b"), 4)

	assert.ErrorIs(t, err, ErrVersionConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(9), conflict.CurrentVersion)
	assert.Equal(t, int64(4), conflict.ExpectedVersion)
	assert.Equal(t, "doc-1", conflict.DocumentID)
}

func TestSave_PatchMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "patch_mismatch"})
	}))
	defer srv.Close()

	codec := patch.NewCodec()
	_, err := newTestTransport(t, srv).Save(context.Background(), "doc-1", codec.Diff("a", "b"), 1)
	assert.ErrorIs(t, err, ErrPatchMismatch)
}

func TestSave_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	codec := patch.NewCodec()
	_, err := newTestTransport(t, srv).Save(context.Background(), "doc-1", codec.Diff("a", "b"), 1)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "save", te.Op)
}

func TestSave_NotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	codec := patch.NewCodec()
	_, err := newTestTransport(t, srv).Save(context.Background(), "doc-1", codec.Diff("a", "b"), 1)
	assert.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "saves have no idempotency keys and must never be blind-retried")
}

func TestFlushBeacon_SendsPatch(t *testing.T) {
	received := make(chan SaveRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/documents/doc-1/beacon", r.URL.Path)
		var req SaveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	codec := patch.NewCodec()
	p := codec.Diff("hello", "hello!")
	newTestTransport(t, srv).FlushBeacon("doc-1", p, 6)

	select {
	case req := <-received:
		assert.Equal(t, p.Text(), req.Patch)
		assert.Equal(t, int64(6), req.ExpectedVersion)
	default:
		t.Fatal("beacon was not received")
	}
}

func TestFlushBeacon_EmptyPatchNotSent(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	newTestTransport(t, srv).FlushBeacon("doc-1", patch.Patch{}, 6)
	assert.Zero(t, calls.Load())
}

func TestCreate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/documents", r.URL.Path)
		var req CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(DocumentResponse{ID: req.ID, Content: req.Content, Version: 1})
	}))
	defer srv.Close()

	res, err := newTestTransport(t, srv).Create(context.Background(), "doc-1", "seed")
	require.NoError(t, err)
	assert.Equal(t, "seed", res.Content)
	assert.Equal(t, int64(1), res.Version)
}

func TestCreate_AlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "already_exists"})
	}))
	defer srv.Close()

	_, err := newTestTransport(t, srv).Create(context.Background(), "doc-1", "seed")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestConflictError_Message(t *testing.T) {
	err := &ConflictError{DocumentID: "d", ExpectedVersion: 2, CurrentVersion: 5}
	assert.Contains(t, err.Error(), "expected 2")
	assert.Contains(t, err.Error(), "server at 5")
	assert.True(t, errors.Is(err, ErrVersionConflict))
}
