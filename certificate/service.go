// Package certificate orchestrates the certificate lifecycle across the
// envelope codec, the content store and the ledger.
//
// The ledger pointer is authoritative. Writes go to the store first and the
// ledger second, so a crash between them leaves at worst an unreferenced blob
// (an orphan), never a ledger pointer to missing content. Reads follow the
// ledger's pointer and authenticate the envelope before returning plaintext.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bitfsorg/certvault-go/contentstore"
	"github.com/bitfsorg/certvault-go/envelope"
	"github.com/bitfsorg/certvault-go/ledger"
	"github.com/bitfsorg/certvault-go/metrics"
)

// Operation names used in StepError and metrics.
const (
	OpIssue    = "issue"
	OpVerify   = "verify"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpDownload = "download"
	OpGet      = "get"
	OpLookup   = "lookup"
)

// DomainChecker validates that an email address can receive mail.
type DomainChecker interface {
	CheckEmail(ctx context.Context, email string) error
}

// Options configures a Service.
type Options struct {
	// Issuer is the identity recorded as issuer and used as actor for every
	// mutation. Required.
	Issuer string

	// DomainChecker, when set, is consulted on Issue before any write.
	DomainChecker DomainChecker

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Service runs certificate operations. It holds no per-fid state and is safe
// for concurrent use; operations on different fids proceed in parallel.
type Service struct {
	codec   *envelope.Codec
	store   contentstore.Store
	ledger  ledger.Ledger
	issuer  string
	checker DomainChecker
	logger  *zap.Logger
	metrics *metrics.Metrics
	newFID  func() string
}

// NewService wires the collaborators. The codec carries the process key.
func NewService(codec *envelope.Codec, store contentstore.Store, l ledger.Ledger, opts Options) (*Service, error) {
	if codec == nil || store == nil || l == nil {
		return nil, fmt.Errorf("%w: codec, store and ledger are required", ErrInvalidRequest)
	}
	if opts.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidRequest)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		codec:   codec,
		store:   store,
		ledger:  l,
		issuer:  opts.Issuer,
		checker: opts.DomainChecker,
		logger:  logger,
		metrics: opts.Metrics,
		newFID:  NewFID,
	}, nil
}

// NewFID returns a fresh random certificate identifier (UUID v4).
func NewFID() string { return uuid.NewString() }

// Issuer returns the identity this service acts as.
func (s *Service) Issuer() string { return s.issuer }

// observe records metrics for one finished operation.
func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.ObserveOperation(op, string(Classify(err)), time.Since(start))
}

// IssueRequest describes a new certificate. FID is generated when empty.
type IssueRequest struct {
	FID     string
	Name    string
	Email   string
	Content []byte
}

// IssueResult is returned by a successful Issue.
type IssueResult struct {
	FID     string
	CID     string
	Receipt *ledger.Receipt
}

// Issue encrypts the content, stores the envelope and records the pointer.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (res *IssueResult, err error) {
	defer func(start time.Time) { s.observe(OpIssue, start, err) }(time.Now())

	if req.Email == "" {
		return nil, stepErr(OpIssue, StepValidate, fmt.Errorf("%w: email is required", ErrInvalidRequest))
	}
	if s.checker != nil {
		if err := s.checker.CheckEmail(ctx, req.Email); err != nil {
			return nil, stepErr(OpIssue, StepCheckEmail, err)
		}
	}

	fid := req.FID
	if fid == "" {
		fid = s.newFID()
	} else {
		exists, err := s.ledger.Exists(ctx, fid)
		if err != nil {
			return nil, stepErr(OpIssue, StepLedgerRead, err)
		}
		if exists {
			return nil, stepErr(OpIssue, StepLedgerRead, fmt.Errorf("%w: fid %s", ledger.ErrDuplicate, fid))
		}
	}

	blob, err := s.codec.Encode(req.Content, req.Name)
	if err != nil {
		return nil, stepErr(OpIssue, StepEncode, err)
	}

	cid, err := s.store.Put(ctx, blob)
	if err != nil {
		return nil, stepErr(OpIssue, StepStorePut, err)
	}

	receipt, err := s.ledger.Create(ctx, fid, cid, req.Email, s.issuer)
	if err != nil {
		s.metrics.Orphan(metrics.OrphanLedgerFailed)
		s.logger.Warn("orphaned blob after ledger create failed",
			zap.String("fid", fid), zap.String("cid", cid), zap.Error(err))
		return nil, stepErr(OpIssue, StepLedgerCreate, err)
	}

	s.logger.Info("certificate issued",
		zap.String("fid", fid), zap.String("cid", cid), zap.String("txid", receipt.TxID))
	return &IssueResult{FID: fid, CID: cid, Receipt: receipt}, nil
}

// Verification is the result of Verify.
type Verification struct {
	FID     string
	IsValid bool
	Reason  string
}

// Verification reasons.
const (
	ReasonOK            = "ok"
	ReasonInactive      = "inactive"
	ReasonEmailMismatch = "email-mismatch"
)

// Verify reports whether fid is active and bound to email. The comparison is
// exact and case-sensitive. An unknown fid is an error, not a negative result.
func (s *Service) Verify(ctx context.Context, fid, email string) (res *Verification, err error) {
	defer func(start time.Time) { s.observe(OpVerify, start, err) }(time.Now())

	check, err := s.ledger.VerifyEmail(ctx, fid, email)
	if err != nil {
		return nil, stepErr(OpVerify, StepLedgerVerify, err)
	}

	v := &Verification{FID: fid, IsValid: check.Valid(), Reason: ReasonOK}
	switch {
	case !check.Active:
		v.Reason = ReasonInactive
	case !check.EmailMatches:
		v.Reason = ReasonEmailMismatch
	}
	return v, nil
}

// UpdateRequest replaces the content of an existing certificate.
type UpdateRequest struct {
	FID     string
	Name    string
	Content []byte
}

// UpdateResult is returned by a successful Update.
type UpdateResult struct {
	FID         string
	CID         string
	PreviousCID string
	Receipt     *ledger.Receipt
}

// Update stores a new envelope and moves the ledger pointer to it. Email,
// issuer and issuance time are unchanged. The previous blob is left in the
// store and counted as an orphan.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (res *UpdateResult, err error) {
	defer func(start time.Time) { s.observe(OpUpdate, start, err) }(time.Now())

	rec, err := s.ledger.Read(ctx, req.FID)
	if err != nil {
		return nil, stepErr(OpUpdate, StepLedgerRead, err)
	}
	if rec.Issuer != s.issuer {
		return nil, stepErr(OpUpdate, StepLedgerRead, fmt.Errorf("%w: fid %s", ledger.ErrUnauthorized, req.FID))
	}
	if !rec.IsActive {
		return nil, stepErr(OpUpdate, StepLedgerRead, fmt.Errorf("%w: fid %s", ledger.ErrInactive, req.FID))
	}

	blob, err := s.codec.Encode(req.Content, req.Name)
	if err != nil {
		return nil, stepErr(OpUpdate, StepEncode, err)
	}

	cid, err := s.store.Put(ctx, blob)
	if err != nil {
		return nil, stepErr(OpUpdate, StepStorePut, err)
	}

	receipt, err := s.ledger.UpdatePointer(ctx, req.FID, cid, s.issuer)
	if err != nil {
		s.metrics.Orphan(metrics.OrphanLedgerFailed)
		s.logger.Warn("orphaned blob after ledger update failed",
			zap.String("fid", req.FID), zap.String("cid", cid), zap.Error(err))
		return nil, stepErr(OpUpdate, StepLedgerUpdate, err)
	}

	if cid != rec.CID {
		s.metrics.Orphan(metrics.OrphanReplaced)
	}
	s.logger.Info("certificate updated",
		zap.String("fid", req.FID), zap.String("cid", cid),
		zap.String("previous_cid", rec.CID), zap.String("txid", receipt.TxID))
	return &UpdateResult{FID: req.FID, CID: cid, PreviousCID: rec.CID, Receipt: receipt}, nil
}

// DeleteResult is returned by a successful Delete.
type DeleteResult struct {
	FID     string
	Receipt *ledger.Receipt

	// RemovedCID is the address the store was asked to forget.
	RemovedCID string

	// RemoveErr is set when the best-effort store removal failed. The
	// deletion itself still succeeded.
	RemoveErr error
}

// Delete deactivates the certificate, then asks the store to forget its
// content. Store failures never fail the deletion.
func (s *Service) Delete(ctx context.Context, fid string) (res *DeleteResult, err error) {
	defer func(start time.Time) { s.observe(OpDelete, start, err) }(time.Now())

	receipt, err := s.ledger.Deactivate(ctx, fid, s.issuer)
	if err != nil {
		return nil, stepErr(OpDelete, StepLedgerDeactivate, err)
	}
	res = &DeleteResult{FID: fid, Receipt: receipt}

	// The pointer is frozen once inactive, so this read is authoritative.
	rec, err := s.ledger.Read(ctx, fid)
	if err != nil {
		res.RemoveErr = err
		s.removeFailed(fid, "", err)
		return res, nil
	}
	res.RemovedCID = rec.CID

	if err := s.store.Remove(ctx, rec.CID); err != nil && !errors.Is(err, contentstore.ErrNotFound) {
		res.RemoveErr = err
		s.removeFailed(fid, rec.CID, err)
	}

	s.logger.Info("certificate deleted",
		zap.String("fid", fid), zap.String("cid", rec.CID),
		zap.Bool("noop", receipt.Noop), zap.String("txid", receipt.TxID))
	return res, nil
}

func (s *Service) removeFailed(fid, cid string, err error) {
	s.metrics.RemoveFailed()
	s.metrics.Orphan(metrics.OrphanRemoveFailed)
	s.logger.Warn("store remove failed after deactivation",
		zap.String("fid", fid), zap.String("cid", cid), zap.Error(err))
}

// File is decrypted certificate content.
type File struct {
	FID     string
	CID     string
	Name    string
	Content []byte
	Meta    envelope.Metadata
}

// Download fetches and decrypts the certificate content. When expectedCID is
// non-empty it must equal the ledger's pointer; otherwise ErrAddressMismatch
// is returned without touching the store.
func (s *Service) Download(ctx context.Context, fid, expectedCID string) (res *File, err error) {
	defer func(start time.Time) { s.observe(OpDownload, start, err) }(time.Now())

	rec, err := s.ledger.Read(ctx, fid)
	if err != nil {
		return nil, stepErr(OpDownload, StepLedgerRead, err)
	}
	if !rec.IsActive {
		return nil, stepErr(OpDownload, StepLedgerRead, fmt.Errorf("%w: fid %s", ledger.ErrInactive, fid))
	}
	if expectedCID != "" && expectedCID != rec.CID {
		return nil, stepErr(OpDownload, StepLedgerRead,
			fmt.Errorf("%w: expected %s, ledger has %s", ErrAddressMismatch, expectedCID, rec.CID))
	}

	blob, err := s.store.Get(ctx, rec.CID)
	if err != nil {
		if errors.Is(err, contentstore.ErrIntegrity) {
			s.metrics.IntegrityFailed()
			s.logger.Error("stored blob does not match its address",
				zap.String("fid", fid), zap.String("cid", rec.CID))
		}
		return nil, stepErr(OpDownload, StepStoreGet, err)
	}

	opened, err := s.codec.Decode(blob)
	if err != nil {
		if errors.Is(err, envelope.ErrIntegrity) {
			s.metrics.IntegrityFailed()
			s.logger.Error("envelope failed authentication",
				zap.String("fid", fid), zap.String("cid", rec.CID))
		}
		return nil, stepErr(OpDownload, StepDecode, err)
	}

	return &File{
		FID:     fid,
		CID:     rec.CID,
		Name:    opened.Name,
		Content: opened.Plaintext,
		Meta:    opened.Metadata,
	}, nil
}

// Get returns the ledger record for fid.
func (s *Service) Get(ctx context.Context, fid string) (res *ledger.Certificate, err error) {
	defer func(start time.Time) { s.observe(OpGet, start, err) }(time.Now())

	rec, err := s.ledger.Read(ctx, fid)
	if err != nil {
		return nil, stepErr(OpGet, StepLedgerRead, err)
	}
	return rec, nil
}

// Lookup returns the fids issued to email.
func (s *Service) Lookup(ctx context.Context, email string) (res []string, err error) {
	defer func(start time.Time) { s.observe(OpLookup, start, err) }(time.Now())

	fids, err := s.ledger.FIDsByEmail(ctx, email)
	if err != nil {
		return nil, stepErr(OpLookup, StepLedgerLookup, err)
	}
	return fids, nil
}
