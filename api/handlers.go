package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bitfsorg/certvault-go/certificate"
	"github.com/bitfsorg/certvault-go/ledger"
)

// Response headers on content downloads.
const (
	HeaderCID       = "X-Certvault-Cid"
	HeaderCreatedAt = "X-Certvault-Created-At"
)

// IssueResponse is returned by POST /v1/certificates.
type IssueResponse struct {
	FID     string          `json:"fid"`
	CID     string          `json:"cid"`
	Receipt *ledger.Receipt `json:"receipt"`
}

// UpdateResponse is returned by PUT /v1/certificates/{fid}.
type UpdateResponse struct {
	FID         string          `json:"fid"`
	CID         string          `json:"cid"`
	PreviousCID string          `json:"previousCid"`
	Receipt     *ledger.Receipt `json:"receipt"`
}

// DeleteResponse is returned by DELETE /v1/certificates/{fid}. RemoveError
// reports a failed content removal; the certificate is still deactivated.
type DeleteResponse struct {
	FID         string          `json:"fid"`
	Receipt     *ledger.Receipt `json:"receipt"`
	RemovedCID  string          `json:"removedCid,omitempty"`
	RemoveError string          `json:"removeError,omitempty"`
}

// VerifyRequest is the body of POST /v1/certificates/{fid}/verify.
type VerifyRequest struct {
	Email string `json:"email"`
}

// VerifyResponse reports the verification result.
type VerifyResponse struct {
	FID     string `json:"fid"`
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason"`
}

// LookupResponse lists the fids issued to an email.
type LookupResponse struct {
	Email string   `json:"email"`
	FIDs  []string `json:"fids"`
}

// fail writes err as a JSON error with the status of its outcome.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	outcome := certificate.Classify(err)
	status := statusFor(outcome)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.String("outcome", string(outcome)), zap.Error(err))
	}
	writeError(w, status, string(outcome), err.Error())
}

// upload is a parsed multipart certificate upload.
type upload struct {
	name    string
	content []byte
}

// readUpload parses the "file" part and the optional "name" field, which
// defaults to the uploaded file name.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(s.opts.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", s.opts.MaxUploadSize))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid multipart form: "+err.Error())
		return nil, false
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "missing file part")
		return nil, false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "read file part: "+err.Error())
		return nil, false
	}

	name := r.FormValue("name")
	if name == "" {
		name = hdr.Filename
	}
	return &upload{name: name, content: content}, true
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Issue(r.Context(), certificate.IssueRequest{
		FID:     r.FormValue("fid"),
		Name:    up.name,
		Email:   r.FormValue("email"),
		Content: up.content,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/certificates/"+url.PathEscape(res.FID))
	writeJSON(w, http.StatusCreated, IssueResponse{FID: res.FID, CID: res.CID, Receipt: res.Receipt})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), chi.URLParam(r, "fid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Update(r.Context(), certificate.UpdateRequest{
		FID:     chi.URLParam(r, "fid"),
		Name:    up.name,
		Content: up.content,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateResponse{
		FID:         res.FID,
		CID:         res.CID,
		PreviousCID: res.PreviousCID,
		Receipt:     res.Receipt,
	})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Delete(r.Context(), chi.URLParam(r, "fid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := DeleteResponse{FID: res.FID, Receipt: res.Receipt, RemovedCID: res.RemovedCID}
	if res.RemoveErr != nil {
		out.RemoveError = res.RemoveErr.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	v, err := s.svc.Verify(r.Context(), chi.URLParam(r, "fid"), req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{FID: v.FID, IsValid: v.IsValid, Reason: v.Reason})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.Download(r.Context(), chi.URLParam(r, "fid"), r.URL.Query().Get("cid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(f.Content)))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	h.Set(HeaderCID, f.CID)
	h.Set(HeaderCreatedAt, f.Meta.CreatedAt.UTC().Format(time.RFC3339Nano))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Content)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid email path segment")
		return
	}
	fids, err := s.svc.Lookup(r.Context(), email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if fids == nil {
		fids = []string{}
	}
	writeJSON(w, http.StatusOK, LookupResponse{Email: email, FIDs: fids})
}
