package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/inklet/inklet/internal/patch"
)

// Defaults for the HTTP transport. The client timeout is the hard ceiling
// for any single request; the engine applies its own per-attempt deadline
// on top via context.
const (
	defaultClientTimeout = 60 * time.Second
	defaultFetchRetries  = 3
	defaultRetryInterval = 500 * time.Millisecond
	defaultBeaconTimeout = 3 * time.Second
)

// HTTPTransport implements Transport over the reference server's REST
// surface. Fetches are retried with exponential backoff because they are
// idempotent; saves are issued exactly once per attempt, because the
// protocol has no idempotency keys and a blind retry could apply a patch
// twice.
type HTTPTransport struct {
	base          *url.URL
	client        *http.Client
	log           *slog.Logger
	fetchRetries  uint64
	retryInterval time.Duration
	beaconTimeout time.Duration
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithTransportLogger sets the logger for transport diagnostics.
func WithTransportLogger(l *slog.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.log = l }
}

// WithFetchRetries sets how many times a failed fetch is retried.
func WithFetchRetries(n uint64) HTTPOption {
	return func(t *HTTPTransport) { t.fetchRetries = n }
}

// WithFetchRetryInterval sets the initial backoff interval between fetch
// retries. Tests shrink this to keep retry paths fast.
func WithFetchRetryInterval(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) { t.retryInterval = d }
}

// WithBeaconTimeout bounds the synchronous best-effort beacon send.
func WithBeaconTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) { t.beaconTimeout = d }
}

// NewHTTPTransport creates a transport against the given base URL,
// e.g. "http://localhost:8484".
func NewHTTPTransport(baseURL string, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	t := &HTTPTransport{
		base:          u,
		client:        &http.Client{Timeout: defaultClientTimeout},
		log:           slog.Default(),
		fetchRetries:  defaultFetchRetries,
		retryInterval: defaultRetryInterval,
		beaconTimeout: defaultBeaconTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Fetch retrieves authoritative content and version for a document.
// Transient failures are retried with exponential backoff; a missing
// document is permanent and returned immediately.
func (t *HTTPTransport) Fetch(ctx context.Context, documentID string) (FetchResult, error) {
	var out FetchResult
	op := func() error {
		res, err := t.fetchOnce(ctx, documentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			t.log.Debug("fetch attempt failed", "doc", documentID, "error", err)
			return err
		}
		out = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.retryInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, t.fetchRetries), ctx)); err != nil {
		return FetchResult{}, err
	}
	return out, nil
}

func (t *HTTPTransport) fetchOnce(ctx context.Context, documentID string) (FetchResult, error) {
	req, err := t.newRequest(ctx, http.MethodGet, t.docURL(documentID), nil)
	if err != nil {
		return FetchResult{}, &TransportError{Op: "fetch", DocumentID: documentID, Err: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return FetchResult{}, &TransportError{Op: "fetch", DocumentID: documentID, Err: err}
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var body DocumentResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return FetchResult{}, &TransportError{Op: "fetch", DocumentID: documentID, Err: fmt.Errorf("decode response: %w", err)}
		}
		return FetchResult{Content: body.Content, Version: body.Version}, nil
	case http.StatusNotFound:
		return FetchResult{}, fmt.Errorf("fetch %s: %w", documentID, ErrNotFound)
	default:
		return FetchResult{}, &TransportError{Op: "fetch", DocumentID: documentID, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// Save applies a patch on top of expectedVersion. Issued exactly once; the
// engine owns conflict handling and retry policy.
func (t *HTTPTransport) Save(ctx context.Context, documentID string, p patch.Patch, expectedVersion int64) (SaveResult, error) {
	req, err := t.newRequest(ctx, http.MethodPatch, t.docURL(documentID), SaveRequest{
		Patch:           p.Text(),
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return SaveResult{}, &TransportError{Op: "save", DocumentID: documentID, Err: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return SaveResult{}, &TransportError{Op: "save", DocumentID: documentID, Err: err}
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var body SaveResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return SaveResult{}, &TransportError{Op: "save", DocumentID: documentID, Err: fmt.Errorf("decode response: %w", err)}
		}
		return SaveResult{Version: body.Version}, nil
	case http.StatusConflict:
		var body ConflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return SaveResult{}, &TransportError{Op: "save", DocumentID: documentID, Err: fmt.Errorf("decode conflict response: %w", err)}
		}
		return SaveResult{}, &ConflictError{
			DocumentID:      documentID,
			ExpectedVersion: expectedVersion,
			CurrentVersion:  body.CurrentVersion,
		}
	case http.StatusUnprocessableEntity:
		return SaveResult{}, fmt.Errorf("save %s: %w", documentID, ErrPatchMismatch)
	case http.StatusNotFound:
		return SaveResult{}, fmt.Errorf("save %s: %w", documentID, ErrNotFound)
	default:
		return SaveResult{}, &TransportError{Op: "save", DocumentID: documentID, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// FlushBeacon sends a patch without awaiting a meaningful response. The
// send is synchronous under a short timeout so it completes before process
// teardown; the outcome is logged and otherwise dropped.
func (t *HTTPTransport) FlushBeacon(documentID string, p patch.Patch, expectedVersion int64) {
	if p.Empty() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.beaconTimeout)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodPost, t.docURL(documentID, "beacon"), SaveRequest{
		Patch:           p.Text(),
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		t.log.Debug("beacon not sent", "doc", documentID, "error", err)
		return
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Debug("beacon send failed", "doc", documentID, "error", err)
		return
	}
	drainAndClose(resp.Body)
	t.log.Debug("beacon sent", "doc", documentID, "status", resp.StatusCode)
}

// Create makes a new document and returns its initial state. Not part of
// the Transport interface: the engine only ever syncs existing documents;
// creation belongs to the tooling around it.
func (t *HTTPTransport) Create(ctx context.Context, documentID, content string) (FetchResult, error) {
	req, err := t.newRequest(ctx, http.MethodPost, t.collectionURL(), CreateRequest{
		ID:      documentID,
		Content: content,
	})
	if err != nil {
		return FetchResult{}, &TransportError{Op: "create", DocumentID: documentID, Err: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return FetchResult{}, &TransportError{Op: "create", DocumentID: documentID, Err: err}
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		var body DocumentResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return FetchResult{}, &TransportError{Op: "create", DocumentID: documentID, Err: fmt.Errorf("decode response: %w", err)}
		}
		return FetchResult{Content: body.Content, Version: body.Version}, nil
	case http.StatusConflict:
		return FetchResult{}, fmt.Errorf("create %s: %w", documentID, ErrAlreadyExists)
	default:
		return FetchResult{}, &TransportError{Op: "create", DocumentID: documentID, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

func (t *HTTPTransport) docURL(documentID string, extra ...string) string {
	parts := append([]string{"v1", "documents", documentID}, extra...)
	return t.base.JoinPath(parts...).String()
}

func (t *HTTPTransport) collectionURL() string {
	return t.base.JoinPath("v1", "documents").String()
}

// drainAndClose empties the body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
