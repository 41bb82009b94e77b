package ledger

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/bitfsorg/certvault-go/identity"
)

// maxRequestSize caps the body of one JSON-RPC request.
const maxRequestSize = 1 << 20

// HandlerOptions configures an RPCHandler.
type HandlerOptions struct {
	// User and Password enable HTTP Basic Auth when User is non-empty.
	User     string
	Password string

	// RequireSignatures rejects mutating calls whose signature does not
	// verify for the claimed actor. Signed updates and deactivations must
	// also name the record's current revision, so a captured request
	// cannot be replayed once the record has moved on.
	RequireSignatures bool

	Logger *zap.Logger
}

// RPCHandler serves a Ledger over the JSON-RPC contract used by RPCClient.
type RPCHandler struct {
	// mu serializes the revision check with the mutation it guards.
	mu     sync.Mutex
	ledger Ledger
	opts   HandlerOptions
	logger *zap.Logger
}

// NewRPCHandler wraps l. A nil logger is replaced with a no-op logger.
func NewRPCHandler(l Ledger, opts HandlerOptions) *RPCHandler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCHandler{ledger: l, opts: opts, logger: logger}
}

// serverRequest is the decoded form of an incoming call.
type serverRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// serverResponse is written for every decodable call.
type serverResponse struct {
	ID     int64       `json:"id"`
	Result interface{} `json:"result"`
	Error  *rpcError   `json:"error"`
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.opts.User != "" && !h.checkAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="ledger"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil || len(body) > maxRequestSize {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req serverRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.write(w, serverResponse{Error: &rpcError{Code: CodeParseError, Message: "parse error"}})
		return
	}

	var params []string
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.write(w, serverResponse{ID: req.ID, Error: &rpcError{
				Code: CodeInvalidArgument, Message: "params must be an array of strings"}})
			return
		}
	}

	result, err := h.dispatch(r.Context(), req.Method, params)
	resp := serverResponse{ID: req.ID, Result: result}
	if err != nil {
		code := codeForError(err)
		if ce, ok := err.(codedError); ok {
			code = ce.code
		}
		if code == CodeInternal {
			h.logger.Error("ledger call failed", zap.String("method", req.Method), zap.Error(err))
		} else {
			h.logger.Debug("ledger call rejected", zap.String("method", req.Method), zap.Error(err))
		}
		resp.Result = nil
		resp.Error = &rpcError{Code: code, Message: err.Error()}
	}
	h.write(w, resp)
}

func (h *RPCHandler) checkAuth(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.opts.User)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.opts.Password)) == 1
	return userOK && passOK
}

func (h *RPCHandler) write(w http.ResponseWriter, resp serverResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("write rpc response", zap.Error(err))
	}
}

// codedError carries a protocol-level code that has no ledger sentinel.
type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string { return e.msg }

func arity(method string, params []string, n int) error {
	if len(params) != n {
		return fmt.Errorf("%w: %s takes %d params, got %d", ErrInvalidArgument, method, n, len(params))
	}
	return nil
}

func (h *RPCHandler) dispatch(ctx context.Context, method string, p []string) (interface{}, error) {
	switch method {
	case MethodCreate:
		if err := arity(method, p, 5); err != nil {
			return nil, err
		}
		if err := h.verify(p[3], p[4], method, p[:4]...); err != nil {
			return nil, err
		}
		return h.ledger.Create(ctx, p[0], p[1], p[2], p[3])
	case MethodRead:
		if err := arity(method, p, 1); err != nil {
			return nil, err
		}
		return h.ledger.Read(ctx, p[0])
	case MethodUpdatePointer:
		if err := arity(method, p, 5); err != nil {
			return nil, err
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if err := h.verify(p[2], p[4], method, p[:4]...); err != nil {
			return nil, err
		}
		if err := h.checkRevision(ctx, p[0], p[3]); err != nil {
			return nil, err
		}
		return h.ledger.UpdatePointer(ctx, p[0], p[1], p[2])
	case MethodDeactivate:
		if err := arity(method, p, 4); err != nil {
			return nil, err
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if err := h.verify(p[1], p[3], method, p[:3]...); err != nil {
			return nil, err
		}
		if err := h.checkRevision(ctx, p[0], p[2]); err != nil {
			return nil, err
		}
		return h.ledger.Deactivate(ctx, p[0], p[1])
	case MethodVerifyEmail:
		if err := arity(method, p, 2); err != nil {
			return nil, err
		}
		return h.ledger.VerifyEmail(ctx, p[0], p[1])
	case MethodExists:
		if err := arity(method, p, 1); err != nil {
			return nil, err
		}
		return h.ledger.Exists(ctx, p[0])
	case MethodFIDsByEmail:
		if err := arity(method, p, 1); err != nil {
			return nil, err
		}
		return h.ledger.FIDsByEmail(ctx, p[0])
	case MethodEvents:
		if err := arity(method, p, 1); err != nil {
			return nil, err
		}
		return h.ledger.Events(ctx, p[0])
	default:
		return nil, codedError{code: CodeMethodNotFound, msg: "method not found: " + method}
	}
}

// verify checks the actor's signature over the call when signatures are required.
func (h *RPCHandler) verify(actor, sigHex, method string, args ...string) error {
	if !h.opts.RequireSignatures {
		return nil
	}
	if sigHex == "" {
		return fmt.Errorf("%w: unsigned %s", ErrUnauthorized, method)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrUnauthorized)
	}
	if err := identity.Verify(actor, SigningPayload(method, args...), sig); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// checkRevision rejects a signed mutation made against an older state of fid.
func (h *RPCHandler) checkRevision(ctx context.Context, fid, revision string) error {
	if !h.opts.RequireSignatures {
		return nil
	}
	want, err := strconv.ParseUint(revision, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: revision %q", ErrInvalidArgument, revision)
	}
	rec, err := h.ledger.Read(ctx, fid)
	if err != nil {
		return err
	}
	if rec.Revision != want {
		return fmt.Errorf("%w: stale revision %d for fid %s (current %d)", ErrUnauthorized, want, fid, rec.Revision)
	}
	return nil
}
