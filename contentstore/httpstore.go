package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxResponseSize is the maximum blob size accepted from a remote store (1 GB).
const MaxResponseSize = 1 << 30

// HTTPStore implements Store against an IPFS-compatible HTTP API:
//
//	POST {base}/api/v0/add          multipart "file" -> {"Hash": "<cid>"}
//	POST {base}/api/v0/cat?arg=cid  -> raw bytes
//	POST {base}/api/v0/pin/rm?arg=cid
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

var _ Store = (*HTTPStore)(nil)

// NewHTTPStore creates a client for the store API at baseURL
// (e.g. "http://127.0.0.1:5001"). A nil client gets a 60 second timeout.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// addResponse is the JSON body returned by /api/v0/add.
type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// apiError is the JSON error body returned by the store API.
type apiError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

// Put uploads blob and pins it.
func (s *HTTPStore) Put(ctx context.Context, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", ErrEmptyContent
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "envelope")
	if err != nil {
		return "", fmt.Errorf("contentstore: build upload: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return "", fmt.Errorf("contentstore: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("contentstore: build upload: %w", err)
	}

	resp, err := s.post(ctx, "/api/v0/add", url.Values{"pin": {"true"}}, mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", s.statusError(resp)
	}

	var out addResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode add response: %w", ErrUnavailable, err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("%w: add response without hash", ErrUnavailable)
	}
	return out.Hash, nil
}

// Get fetches the blob at address.
func (s *HTTPStore) Get(ctx context.Context, address string) ([]byte, error) {
	if err := validateRemoteAddress(address); err != nil {
		return nil, err
	}

	resp, err := s.post(ctx, "/api/v0/cat", url.Values{"arg": {address}}, "", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError(resp)
	}

	// Read one byte past the limit to detect oversize bodies.
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if len(data) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return data, nil
}

// Remove unpins address so the store may garbage-collect it.
func (s *HTTPStore) Remove(ctx context.Context, address string) error {
	if err := validateRemoteAddress(address); err != nil {
		return err
	}

	resp, err := s.post(ctx, "/api/v0/pin/rm", url.Values{"arg": {address}}, "", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return s.statusError(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

// post issues a POST to path with query parameters.
func (s *HTTPStore) post(ctx context.Context, path string, query url.Values, contentType string, body io.Reader) (*http.Response, error) {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("contentstore: create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, nil
}

// statusError maps a non-200 response to a sentinel. The API reports missing
// content as HTTP 500 with a message, so the message is inspected too.
func (s *HTTPStore) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(raw))
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
		msg = ae.Message
	}

	if resp.StatusCode == http.StatusNotFound || isNotFoundMessage(msg) {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "invalid") {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, msg)
	}
	return fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, msg)
}

func isNotFoundMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not found") ||
		strings.Contains(m, "not pinned") ||
		strings.Contains(m, "no link named")
}

func validateRemoteAddress(address string) error {
	if address == "" || strings.ContainsAny(address, " \t\r\n/?&#") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}
