package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// JSON-RPC method names served by RPCHandler and called by RPCClient.
const (
	MethodCreate        = "cert.create"
	MethodRead          = "cert.read"
	MethodUpdatePointer = "cert.updatePointer"
	MethodDeactivate    = "cert.deactivate"
	MethodVerifyEmail   = "cert.verifyEmail"
	MethodExists        = "cert.exists"
	MethodFIDsByEmail   = "cert.fidsByEmail"
	MethodEvents        = "cert.events"
)

// JSON-RPC error codes.
const (
	CodeParseError      = -32700
	CodeMethodNotFound  = -32601
	CodeInvalidArgument = -32602
	CodeInternal        = -32603
	CodeNotFound        = -32001
	CodeDuplicate       = -32002
	CodeInactive        = -32003
	CodeUnauthorized    = -32004
)

// Signer proves possession of an actor's key. *identity.Identity implements it.
type Signer interface {
	ID() string
	Sign(msg []byte) ([]byte, error)
}

// RPCConfig holds connection settings for a ledger node.
type RPCConfig struct {
	URL      string
	User     string
	Password string

	// Signers are the identities this client may act as. A mutating call is
	// signed by the signer whose ID equals the actor; with no such signer
	// the call is sent unsigned.
	Signers []Signer

	// Timeout bounds each HTTP round trip. Zero means 30 seconds.
	Timeout time.Duration
}

// RPCClient is a JSON-RPC 1.0 Ledger client for a remote ledger node.
type RPCClient struct {
	url     string
	user    string
	pass    string
	client  *http.Client
	nextID  atomic.Int64
	signers map[string]Signer
}

var _ Ledger = (*RPCClient)(nil)

// rpcRequest represents a JSON-RPC 1.0 request payload.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 1.0 response payload.
type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcError represents an error returned by the JSON-RPC server.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRPCClient creates a JSON-RPC client. It uses HTTP Basic Auth when User
// is non-empty and keeps a small connection pool.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	signers := make(map[string]Signer, len(cfg.Signers))
	for _, s := range cfg.Signers {
		signers[s.ID()] = s
	}
	return &RPCClient{
		url:  cfg.URL,
		user: cfg.User,
		pass: cfg.Password,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		signers: signers,
	}
}

// Call invokes a JSON-RPC method and decodes the result into result.
//
// Call returns ErrConnectionFailed if the HTTP request fails and
// ErrInvalidResponse if the response cannot be decoded. Ledger error codes
// are mapped back to this package's sentinel errors.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("ledger: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, err)
	}

	if rpcResp.ID != reqBody.ID {
		return fmt.Errorf("%w: response ID mismatch: expected %d, got %d",
			ErrInvalidResponse, reqBody.ID, rpcResp.ID)
	}

	if rpcResp.Error != nil {
		return errorForCode(rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if result != nil {
		if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
			return fmt.Errorf("%w: empty result for %s", ErrInvalidResponse, method)
		}
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: unmarshal result: %w", ErrInvalidResponse, err)
		}
	}

	return nil
}

// sign returns the hex signature of actor over the call, or "" when this
// client holds no key for actor.
func (c *RPCClient) sign(actor, method string, args ...string) (string, error) {
	s, ok := c.signers[actor]
	if !ok {
		return "", nil
	}
	sig, err := s.Sign(SigningPayload(method, args...))
	if err != nil {
		return "", fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	return hex.EncodeToString(sig), nil
}

func (c *RPCClient) Create(ctx context.Context, fid, cid, email, issuer string) (*Receipt, error) {
	sig, err := c.sign(issuer, MethodCreate, fid, cid, email, issuer)
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := c.Call(ctx, MethodCreate, []interface{}{fid, cid, email, issuer, sig}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *RPCClient) Read(ctx context.Context, fid string) (*Certificate, error) {
	var rec Certificate
	if err := c.Call(ctx, MethodRead, []interface{}{fid}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdatePointer signs over the record's current revision, so the signed
// request is only accepted once.
func (c *RPCClient) UpdatePointer(ctx context.Context, fid, newCID, actor string) (*Receipt, error) {
	rev, err := c.revision(ctx, fid)
	if err != nil {
		return nil, err
	}
	sig, err := c.sign(actor, MethodUpdatePointer, fid, newCID, actor, rev)
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := c.Call(ctx, MethodUpdatePointer, []interface{}{fid, newCID, actor, rev, sig}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *RPCClient) Deactivate(ctx context.Context, fid, actor string) (*Receipt, error) {
	rev, err := c.revision(ctx, fid)
	if err != nil {
		return nil, err
	}
	sig, err := c.sign(actor, MethodDeactivate, fid, actor, rev)
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := c.Call(ctx, MethodDeactivate, []interface{}{fid, actor, rev, sig}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// revision returns the record's current revision in its wire form.
func (c *RPCClient) revision(ctx context.Context, fid string) (string, error) {
	rec, err := c.Read(ctx, fid)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(rec.Revision, 10), nil
}

func (c *RPCClient) VerifyEmail(ctx context.Context, fid, email string) (*EmailCheck, error) {
	var ec EmailCheck
	if err := c.Call(ctx, MethodVerifyEmail, []interface{}{fid, email}, &ec); err != nil {
		return nil, err
	}
	return &ec, nil
}

func (c *RPCClient) Exists(ctx context.Context, fid string) (bool, error) {
	var ok bool
	if err := c.Call(ctx, MethodExists, []interface{}{fid}, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *RPCClient) FIDsByEmail(ctx context.Context, email string) ([]string, error) {
	var fids []string
	if err := c.Call(ctx, MethodFIDsByEmail, []interface{}{email}, &fids); err != nil {
		return nil, err
	}
	return fids, nil
}

func (c *RPCClient) Events(ctx context.Context, fid string) ([]Event, error) {
	var events []Event
	if err := c.Call(ctx, MethodEvents, []interface{}{fid}, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// SigningPayload is the message an actor signs for a mutating call: the
// method and each argument, length-prefixed. UpdatePointer and Deactivate
// include the record revision as their last argument.
func SigningPayload(method string, args ...string) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(method)))
	buf = append(buf, method...)
	for _, a := range args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}
	return buf
}

// codeForError maps a ledger error to its JSON-RPC code.
func codeForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrDuplicate):
		return CodeDuplicate
	case errors.Is(err, ErrInactive):
		return CodeInactive
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// errorForCode maps a JSON-RPC error back to a sentinel.
func errorForCode(code int, msg string) error {
	var sentinel error
	switch code {
	case CodeInvalidArgument:
		sentinel = ErrInvalidArgument
	case CodeNotFound:
		sentinel = ErrNotFound
	case CodeDuplicate:
		sentinel = ErrDuplicate
	case CodeInactive:
		sentinel = ErrInactive
	case CodeUnauthorized:
		sentinel = ErrUnauthorized
	default:
		return fmt.Errorf("ledger: rpc error %d: %s", code, msg)
	}
	return fmt.Errorf("%w (remote: %s)", sentinel, msg)
}
