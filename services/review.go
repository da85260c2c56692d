package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"proof-badge-system/metrics"
	"proof-badge-system/models"

	"gorm.io/gorm"
)

const DefaultRejectionReason = "Does not meet challenge requirements"

type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
)

// Locker guards a submission across replicas while a decision is in flight.
// *utils.RedisLock satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

type DecideRequest struct {
	SubmissionID    string         `json:"submission_id"`
	Action          DecisionAction `json:"action"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

type IssuanceSummary struct {
	TxHash        string `json:"tx_hash"`
	TokenID       string `json:"token_id"`
	Degraded      bool   `json:"degraded"`
	Reason        string `json:"reason,omitempty"`
	ExplorerURL   string `json:"explorer_url,omitempty"`
	MetadataURI   string `json:"metadata_uri"`
	PointsAwarded int64  `json:"points_awarded"`
}

type DecisionResult struct {
	SubmissionID string                  `json:"submission_id"`
	Status       models.SubmissionStatus `json:"status"`
	Issuance     *IssuanceSummary        `json:"issuance,omitempty"`
}

type Reviewer struct {
	DB       *gorm.DB
	Identity *IdentityResolver
	Issuer   *Issuer
	// Lock is optional; the conditional status update is the real guard.
	Lock Locker
	// ExplorerTxURL builds a block explorer link for on-chain issuances.
	ExplorerTxURL func(hash string) string

	now Clock
}

func NewReviewer(db *gorm.DB, identity *IdentityResolver, issuer *Issuer, lock Locker, explorer func(string) string, now Clock) *Reviewer {
	if now == nil {
		now = time.Now
	}
	return &Reviewer{DB: db, Identity: identity, Issuer: issuer, Lock: lock, ExplorerTxURL: explorer, now: now}
}

// Decide moves a pending submission to approved or rejected. Approval issues
// the badge first and then flips the status, whether or not the mint reached
// the chain.
func (r *Reviewer) Decide(ctx context.Context, req DecideRequest) (*DecisionResult, error) {
	req.SubmissionID = strings.TrimSpace(req.SubmissionID)
	if req.SubmissionID == "" {
		return nil, fmt.Errorf("%w: submission id is required", ErrInvalidInput)
	}
	if req.Action != ActionApprove && req.Action != ActionReject {
		return nil, fmt.Errorf("%w: action must be approve or reject", ErrInvalidInput)
	}

	if r.Lock != nil {
		release, ok, err := r.Lock.Acquire(ctx, req.SubmissionID)
		switch {
		case err != nil:
			log.Printf("⚠️ [REVIEW] Decision lock unavailable for %s, continuing: %v", req.SubmissionID, err)
		case !ok:
			metrics.IncDecision(string(req.Action), "in_flight")
			return nil, ErrAlreadyProcessed
		default:
			defer release()
		}
	}

	var res *DecisionResult
	var err error
	if req.Action == ActionReject {
		res, err = r.reject(ctx, req)
	} else {
		res, err = r.approve(ctx, req)
	}
	metrics.IncDecision(string(req.Action), outcomeLabel(err))
	return res, err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrWalletNotFound):
		return "no_wallet"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	}
	return "error"
}

func (r *Reviewer) loadPending(ctx context.Context, id string) (*models.Submission, error) {
	var sub models.Submission
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if !sub.IsPending() {
		return nil, fmt.Errorf("%w: submission %s is %s", ErrAlreadyProcessed, id, sub.Status)
	}
	return &sub, nil
}

func (r *Reviewer) reject(ctx context.Context, req DecideRequest) (*DecisionResult, error) {
	if _, err := r.loadPending(ctx, req.SubmissionID); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.RejectionReason)
	if reason == "" {
		reason = DefaultRejectionReason
	}

	res := r.DB.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", req.SubmissionID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":           models.StatusRejected,
			"rejection_reason": reason,
			"updated_at":       r.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: submission %s", ErrAlreadyProcessed, req.SubmissionID)
	}
	log.Printf("🚫 [REVIEW] Rejected submission %s: %s", req.SubmissionID, reason)
	return &DecisionResult{SubmissionID: req.SubmissionID, Status: models.StatusRejected}, nil
}

func (r *Reviewer) approve(ctx context.Context, req DecideRequest) (*DecisionResult, error) {
	sub, err := r.loadPending(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}

	var ch models.Challenge
	if err := r.DB.WithContext(ctx).Where("id = ?", sub.ChallengeID).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: challenge %s not found", ErrInvalidInput, sub.ChallengeID)
		}
		return nil, err
	}
	if err := models.ValidateChallenge(&ch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	wallet, found, err := r.Identity.Resolve(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrWalletNotFound
	}

	issued, err := r.Issuer.Issue(ctx, sub, &ch, wallet)
	switch {
	case errors.Is(err, ErrAlreadyMinted):
		if issued.Badge.Mode == models.ModeReserved {
			return nil, fmt.Errorf("%w: issuance for %s is in flight", ErrAlreadyProcessed, sub.ID)
		}
		log.Printf("ℹ️ [REVIEW] Submission %s already has badge %s, completing approval", sub.ID, issued.Badge.ID)
	case err != nil:
		return nil, err
	}

	mintedAt := issued.MintedAt
	if mintedAt.IsZero() {
		mintedAt = r.now()
	}
	// The badge exists now; the status flip must not be lost to a cancelled request.
	persistCtx := context.WithoutCancel(ctx)
	res := r.DB.WithContext(persistCtx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", sub.ID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":           models.StatusApproved,
			"mint_address":     issued.MintAddress,
			"metadata_uri":     issued.MetadataURI,
			"tx_signature":     issued.TxHash,
			"minted_at":        mintedAt,
			"rejection_reason": nil,
			"updated_at":       r.now(),
		})
	if res.Error != nil {
		metrics.IncPersistenceFailure()
		log.Printf("🚨 [REVIEW] PERSISTENCE FAILURE approving %s: wallet=%s challenge=%s tx=%s err=%v",
			sub.ID, wallet, ch.ID, issued.TxHash, res.Error)
		return nil, fmt.Errorf("%w: approve submission %s: %v", ErrPersistenceFailure, sub.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var current models.Submission
		if err := r.DB.WithContext(persistCtx).Where("id = ?", sub.ID).First(&current).Error; err != nil {
			return nil, err
		}
		ours := current.TxSignature != nil && *current.TxSignature == issued.TxHash
		if current.Status != models.StatusApproved || !ours {
			return nil, fmt.Errorf("%w: submission %s", ErrAlreadyProcessed, sub.ID)
		}
	}

	summary := &IssuanceSummary{
		TxHash:        issued.TxHash,
		TokenID:       issued.TokenID,
		Degraded:      issued.Degraded(),
		Reason:        issued.Reason,
		MetadataURI:   issued.MetadataURI,
		PointsAwarded: issued.PointsAwarded,
	}
	if issued.MintedOnChain && r.ExplorerTxURL != nil {
		summary.ExplorerURL = r.ExplorerTxURL(issued.TxHash)
	}
	log.Printf("✅ [REVIEW] Approved submission %s (degraded=%v)", sub.ID, summary.Degraded)
	return &DecisionResult{SubmissionID: sub.ID, Status: models.StatusApproved, Issuance: summary}, nil
}
