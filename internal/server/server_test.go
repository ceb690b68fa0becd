package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet/inklet/internal/docstore"
	"github.com/inklet/inklet/internal/engine"
	"github.com/inklet/inklet/internal/patch"
	"github.com/inklet/inklet/internal/remote"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T) (*httptest.Server, *docstore.Memory) {
	t.Helper()
	store := docstore.NewMemory()
	srv := New(store, WithLogger(discardLogger()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

// doJSON performs a request with a JSON body and decodes the JSON reply
// into out when out is non-nil.
func doJSON(t *testing.T, method, url string, body, out any) *http.Response {
	t.Helper()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, payload)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp
}

func diffText(old, new string) string {
	return patch.NewCodec().Diff(old, new).Text()
}

func TestServer_CreateAndGet(t *testing.T) {
	ts, _ := setupTestServer(t)

	var created remote.DocumentResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/documents",
		remote.CreateRequest{ID: "doc-1", Content: "hello"}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "doc-1", created.ID)
	assert.Equal(t, "hello", created.Content)
	assert.Equal(t, int64(1), created.Version)

	var got remote.DocumentResponse
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/documents/doc-1", nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created, got)
}

func TestServer_CreateAssignsIDWhenAbsent(t *testing.T) {
	ts, _ := setupTestServer(t)

	var created remote.DocumentResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/documents",
		remote.CreateRequest{Content: "anonymous"}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, created.ID)
}

func TestServer_CreateDuplicateConflicts(t *testing.T) {
	ts, _ := setupTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/v1/documents",
		remote.CreateRequest{ID: "doc-1", Content: "a"}, nil)
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/documents",
		remote.CreateRequest{ID: "doc-1", Content: "b"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_GetMissingIs404(t *testing.T) {
	ts, _ := setupTestServer(t)

	var body remote.ErrorResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/documents/ghost", nil, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "document not found", body.Error)
}

func TestServer_PatchBumpsVersion(t *testing.T) {
	ts, store := setupTestServer(t)
	_, err := store.Create(context.Background(), "doc-1", "hello")
	require.NoError(t, err)

	var saved remote.SaveResponse
	resp := doJSON(t, http.MethodPatch, ts.URL+"/v1/documents/doc-1",
		remote.SaveRequest{Patch: diffText("hello", "hello world"), ExpectedVersion: 1}, &saved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), saved.Version)

	doc, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", doc.Content)
}

func TestServer_PatchStaleVersionConflicts(t *testing.T) {
	ts, store := setupTestServer(t)
	_, err := store.Create(context.Background(), "doc-1", "hello")
	require.NoError(t, err)
	_, err = store.ApplyPatch(context.Background(), "doc-1", diffText("hello", "hello!"), 1)
	require.NoError(t, err)

	var body remote.ConflictResponse
	resp := doJSON(t, http.MethodPatch, ts.URL+"/v1/documents/doc-1",
		remote.SaveRequest{Patch: diffText("hello", "hello?"), ExpectedVersion: 1}, &body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, int64(1), body.ExpectedVersion)
	assert.Equal(t, int64(2), body.CurrentVersion)

	// The conflicting patch must not have been applied.
	doc, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello!", doc.Content)
}

func TestServer_PatchGarbageIs422(t *testing.T) {
	ts, store := setupTestServer(t)
	_, err := store.Create(context.Background(), "doc-1", "hello")
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPatch, ts.URL+"/v1/documents/doc-1",
		remote.SaveRequest{Patch: "not a patch", ExpectedVersion: 1}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_PatchMissingDocumentIs404(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp := doJSON(t, http.MethodPatch, ts.URL+"/v1/documents/ghost",
		remote.SaveRequest{Patch: diffText("a", "b"), ExpectedVersion: 1}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_BeaconAlwaysAccepted(t *testing.T) {
	ts, store := setupTestServer(t)
	_, err := store.Create(context.Background(), "doc-1", "hello")
	require.NoError(t, err)

	// A clean beacon applies.
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/documents/doc-1/beacon",
		remote.SaveRequest{Patch: diffText("hello", "hello!"), ExpectedVersion: 1}, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	doc, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello!", doc.Content)
	assert.Equal(t, int64(2), doc.Version)

	// A stale beacon is dropped but still answered 202.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/documents/doc-1/beacon",
		remote.SaveRequest{Patch: diffText("hello", "hello?"), ExpectedVersion: 1}, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	doc, err = store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello!", doc.Content)
}

func TestServer_ListAndDelete(t *testing.T) {
	ts, store := setupTestServer(t)
	_, err := store.Create(context.Background(), "doc-1", "a")
	require.NoError(t, err)
	_, err = store.Create(context.Background(), "doc-2", "b")
	require.NoError(t, err)

	var docs []remote.DocumentResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/documents", nil, &docs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, docs, 2)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/documents/doc-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/documents/doc-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	doJSON(t, http.MethodGet, ts.URL+"/v1/documents", nil, &docs)
	assert.Len(t, docs, 1)
}

func TestServer_RequestIDEchoedAndAssigned(t *testing.T) {
	ts, _ := setupTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "caller-chosen-id")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "caller-chosen-id", resp.Header.Get("X-Request-Id"))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

// TestServer_HTTPTransportRoundTrip drives the server through the same
// client the engine uses, covering both sides of the wire contract.
func TestServer_HTTPTransportRoundTrip(t *testing.T) {
	ts, _ := setupTestServer(t)
	ctx := context.Background()

	tr, err := remote.NewHTTPTransport(ts.URL, remote.WithTransportLogger(discardLogger()))
	require.NoError(t, err)

	created, err := tr.Create(ctx, "doc-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	fetched, err := tr.Fetch(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", fetched.Content)

	codec := patch.NewCodec()
	saved, err := tr.Save(ctx, "doc-1", codec.Diff("hello", "hello world"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	// A stale save surfaces as a typed conflict carrying the server's
	// current version.
	_, err = tr.Save(ctx, "doc-1", codec.Diff("hello", "hello there"), 1)
	var conflict *remote.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)
	assert.Equal(t, int64(2), conflict.CurrentVersion)
	assert.ErrorIs(t, err, remote.ErrVersionConflict)

	_, err = tr.Fetch(ctx, "ghost")
	assert.ErrorIs(t, err, remote.ErrNotFound)

	tr.FlushBeacon("doc-1", codec.Diff("hello world", "hello world!"), 2)
	final, err := tr.Fetch(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world!", final.Content)
	assert.Equal(t, int64(3), final.Version)
}

// TestServer_EngineEndToEnd runs a real engine against the server over
// HTTP with shrunk timings: edit, debounce, save, confirm.
func TestServer_EngineEndToEnd(t *testing.T) {
	ts, store := setupTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := remote.NewHTTPTransport(ts.URL, remote.WithTransportLogger(discardLogger()))
	require.NoError(t, err)
	_, err = tr.Create(ctx, "doc-1", "draft")
	require.NoError(t, err)

	e := engine.New("doc-1", tr,
		engine.WithLogger(discardLogger()),
		engine.WithTimings(engine.Timings{
			DebounceDelay:       20 * time.Millisecond,
			MaxSaveInterval:     time.Second,
			MinSaveInterval:     50 * time.Millisecond,
			SaveTimeout:         2 * time.Second,
			SmallPatchThreshold: 1,
			SnapshotRatio:       1000,
		}),
	)
	require.NoError(t, e.Load(ctx))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = e.Run(ctx)
	}()
	defer func() {
		e.Stop()
		<-runDone
	}()

	e.OnContentChanged("draft, expanded over the wire")

	require.Eventually(t, func() bool {
		return e.Version() == 2
	}, 3*time.Second, 10*time.Millisecond, "save did not land")

	doc, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "draft, expanded over the wire", doc.Content)
	assert.Equal(t, engine.StatusSaved, e.Status())
}
