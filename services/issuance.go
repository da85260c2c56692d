package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/config"
	"proof-badge-system/metrics"
	"proof-badge-system/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MetadataArchive keeps a durable copy of badge metadata off the hot path.
type MetadataArchive interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

type IssuerOptions struct {
	Issuance      config.IssuanceConfig
	// BadgeContract is recorded as the mint address; empty means no contract.
	BadgeContract string
	MintTimeout   time.Duration
	Archive       MetadataArchive
	ArchiveKey    func(challengeTitle, submissionID string) string
	Clock         Clock
}

// Issuer turns an approved submission into exactly one badge record and, when
// the chain is reachable, one on-chain mint.
type Issuer struct {
	DB    *gorm.DB
	Chain chain.BadgeGateway

	opts    IssuerOptions
	now     Clock
	pending sync.WaitGroup
}

func NewIssuer(db *gorm.DB, gw chain.BadgeGateway, opts IssuerOptions) *Issuer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MintTimeout <= 0 {
		opts.MintTimeout = 45 * time.Second
	}
	return &Issuer{DB: db, Chain: gw, opts: opts, now: opts.Clock}
}

type IssuanceResult struct {
	Badge         *models.BadgeRecord
	TxHash        string
	TokenID       string
	MintAddress   string
	MetadataURI   string
	MintedOnChain bool
	// Reason explains a degraded issuance.
	Reason        string
	PointsAwarded int64
	MintedAt      time.Time
}

func (r *IssuanceResult) Degraded() bool { return !r.MintedOnChain }

func resultFromRecord(rec *models.BadgeRecord, points int64) *IssuanceResult {
	return &IssuanceResult{
		Badge:         rec,
		TxHash:        rec.TxSignature,
		TokenID:       rec.TokenID,
		MintAddress:   rec.MintAddress,
		MetadataURI:   rec.MetadataURI,
		MintedOnChain: rec.Mode == models.ModeOnChain,
		Reason:        rec.LastError,
		PointsAwarded: points,
		MintedAt:      rec.UpdatedAt,
	}
}

type metadataAttribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

type badgeMetadata struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Image       string              `json:"image"`
	Attributes  []metadataAttribute `json:"attributes"`
}

func (i *Issuer) buildMetadata(ch *models.Challenge, issuedAt time.Time) ([]byte, error) {
	image := ch.BadgeImageURL
	if image == "" {
		image = i.opts.Issuance.DefaultImage
	}
	md := badgeMetadata{
		Name:        fmt.Sprintf("%s: %s", i.opts.Issuance.Brand, ch.Title),
		Description: fmt.Sprintf("Badge earned for completing %q on %s.", ch.Title, i.opts.Issuance.Brand),
		Image:       image,
		Attributes: []metadataAttribute{
			{TraitType: "Challenge", Value: ch.Title},
			{TraitType: "Category", Value: ch.Category},
			{TraitType: "Difficulty", Value: string(ch.Difficulty)},
			{TraitType: "Completed", Value: issuedAt.UTC().Format(time.RFC3339)},
			{TraitType: "Platform", Value: i.opts.Issuance.Platform},
			{TraitType: "Network", Value: i.opts.Issuance.NetworkLabel},
			{TraitType: "Points", Value: ch.Points},
		},
	}
	return json.Marshal(md)
}

// DataURI wraps a metadata document as a self-contained base64 data URI.
func DataURI(doc []byte) string {
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(doc)
}

func placeholderTx(prefix string, at time.Time) string {
	return fmt.Sprintf("%s%d_%s", prefix, at.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func placeholderToken(submissionID string) string {
	short := submissionID
	if len(short) > 8 {
		short = short[:8]
	}
	return models.PlaceholderTokenPfx + short
}

func (i *Issuer) mintAddress(submissionID string) string {
	if i.opts.BadgeContract != "" {
		return i.opts.BadgeContract
	}
	return models.PendingTxPrefix + submissionID
}

// draft builds the unsaved record for an issuance at issuedAt along with the
// metadata document it points to.
func (i *Issuer) draft(sub *models.Submission, ch *models.Challenge, wallet string, issuedAt time.Time) (*models.BadgeRecord, []byte, error) {
	millis := issuedAt.UnixMilli()
	doc, err := i.buildMetadata(ch, issuedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: metadata: %v", ErrInvalidInput, err)
	}
	attrs, _ := json.Marshal(map[string]interface{}{
		"challenge":  ch.Title,
		"category":   ch.Category,
		"difficulty": ch.Difficulty,
		"points":     ch.Points,
	})
	name := ch.BadgeName
	if name == "" {
		name = ch.Title + " Badge"
	}
	image := ch.BadgeImageURL
	if image == "" {
		image = i.opts.Issuance.DefaultImage
	}
	return &models.BadgeRecord{
		UserID:         sub.UserID,
		SubmissionID:   sub.ID,
		ChallengeID:    ch.ID,
		WalletAddress:  wallet,
		MintAddress:    i.mintAddress(sub.ID),
		MetadataURI:    DataURI(doc),
		ProofHash:      chain.ProofHash(ch.ID, sub.UserID, sub.ID, millis).Hex(),
		IssuedAtMillis: millis,
		Mode:           models.ModeReserved,
		Name:           name,
		Description:    fmt.Sprintf("Badge earned for completing %q", ch.Title),
		ImageURL:       image,
		Attributes:     datatypes.JSON(attrs),
	}, doc, nil
}

// Issue reserves the badge record for sub, mints it when the chain is
// configured and finalizes the record. A second call for the same submission
// returns the existing record with ErrAlreadyMinted.
func (i *Issuer) Issue(ctx context.Context, sub *models.Submission, ch *models.Challenge, wallet string) (*IssuanceResult, error) {
	if sub == nil || sub.ID == "" {
		return nil, fmt.Errorf("%w: submission missing", ErrInvalidInput)
	}
	if err := models.ValidateChallenge(ch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !chain.IsAddress(wallet) {
		return nil, fmt.Errorf("%w: %q is not a wallet address", ErrWalletNotFound, wallet)
	}

	// One timestamp feeds the metadata, the proof hash and the mint call.
	issuedAt := i.now()
	rec, doc, err := i.draft(sub, ch, wallet, issuedAt)
	if err != nil {
		return nil, err
	}
	if err = i.DB.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.BadgeRecord
			if ferr := i.DB.WithContext(ctx).Where("submission_id = ?", sub.ID).First(&existing).Error; ferr != nil {
				return nil, fmt.Errorf("%w: load existing badge: %v", ErrPersistenceFailure, ferr)
			}
			return resultFromRecord(&existing, ch.Points), ErrAlreadyMinted
		}
		return nil, fmt.Errorf("%w: reserve badge: %v", ErrPersistenceFailure, err)
	}

	req := chain.MintRequest{
		To:              common.HexToAddress(wallet),
		ChallengeIDHash: chain.ChallengeIDHash(ch.ID),
		ProofHash:       common.HexToHash(rec.ProofHash),
		MetadataURI:     rec.MetadataURI,
	}
	outcome := i.mint(ctx, req, sub.ID, issuedAt)

	rec.TxSignature = outcome.txHash
	rec.TokenID = outcome.tokenID
	rec.LastError = outcome.reason
	rec.Mode = models.ModeDegraded
	if outcome.onChain {
		rec.Mode = models.ModeOnChain
	}
	metrics.IncIssuance(string(rec.Mode))

	// The mint cannot be undone, so the record is written even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	err = i.DB.WithContext(persistCtx).Model(&models.BadgeRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"tx_signature": rec.TxSignature,
			"token_id":     rec.TokenID,
			"last_error":   rec.LastError,
			"mode":         rec.Mode,
		}).Error
	result := resultFromRecord(rec, ch.Points)
	result.MintedAt = issuedAt
	if err != nil {
		metrics.IncPersistenceFailure()
		log.Printf("🚨 [ISSUE] PERSISTENCE FAILURE after mint: wallet=%s challenge=%s submission=%s tx=%s token=%s err=%v",
			wallet, ch.ID, sub.ID, rec.TxSignature, rec.TokenID, err)
		return result, fmt.Errorf("%w: finalize badge %s: %v", ErrPersistenceFailure, rec.ID, err)
	}

	i.bumpCounters(persistCtx, sub, ch)
	i.archive(rec, ch.Title, doc)

	if outcome.onChain {
		log.Printf("🏅 [ISSUE] Minted token %s for submission %s → %s (tx %s)", rec.TokenID, sub.ID, wallet, rec.TxSignature)
	} else {
		log.Printf("⚠️ [ISSUE] Degraded issuance for submission %s (%s): %s", sub.ID, rec.TxSignature, rec.LastError)
	}
	return result, nil
}

type mintOutcome struct {
	txHash  string
	tokenID string
	onChain bool
	reason  string
}

func (i *Issuer) mint(ctx context.Context, req chain.MintRequest, submissionID string, issuedAt time.Time) mintOutcome {
	if i.Chain == nil || !i.Chain.Configured() {
		return mintOutcome{
			txHash:  placeholderTx(models.SimulatedTxPrefix, issuedAt),
			tokenID: placeholderToken(submissionID),
			reason:  "chain issuance not configured",
		}
	}

	mintCtx, cancel := context.WithTimeout(ctx, i.opts.MintTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := i.Chain.MintBadge(mintCtx, req)
	metrics.ObserveMint(time.Since(start).Seconds())
	if err == nil {
		return mintOutcome{txHash: receipt.TxHash, tokenID: receipt.TokenID.String(), onChain: true}
	}

	metrics.IncChainError("mint")
	reason := fmt.Sprintf("%v: %v", ErrChainUnavailable, err)
	var pendingTx *chain.PendingTxError
	var unindexed *chain.UnindexedMintError
	switch {
	case errors.As(err, &unindexed):
		// Mined, token id unknown; the upgrade job finds the badge on chain.
		return mintOutcome{
			txHash:  models.PendingTxPrefix + unindexed.TxHash,
			tokenID: placeholderToken(submissionID),
			reason:  fmt.Sprintf("minted in %s but token id unknown", unindexed.TxHash),
		}
	case errors.As(err, &pendingTx):
		// Broadcast but unconfirmed; keep the real hash behind the pending marker.
		return mintOutcome{txHash: models.PendingTxPrefix + pendingTx.TxHash, tokenID: placeholderToken(submissionID), reason: reason}
	case errors.Is(err, context.DeadlineExceeded):
		return mintOutcome{txHash: placeholderTx(models.PendingTxPrefix, issuedAt), tokenID: placeholderToken(submissionID), reason: reason}
	}
	return mintOutcome{txHash: placeholderTx(models.SimulatedTxPrefix, issuedAt), tokenID: placeholderToken(submissionID), reason: reason}
}

// bumpCounters applies the aggregate increments. Failures are logged only;
// the reconciler recomputes these from source rows.
func (i *Issuer) bumpCounters(ctx context.Context, sub *models.Submission, ch *models.Challenge) {
	if err := i.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ?", ch.ID).
		UpdateColumn("completions_count", gorm.Expr("completions_count + ?", 1)).Error; err != nil {
		log.Printf("❌ [ISSUE] completions_count +1 failed for challenge %s: %v", ch.ID, err)
	}

	res := i.DB.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", sub.UserID).
		UpdateColumns(map[string]interface{}{
			"total_points": gorm.Expr("total_points + ?", ch.Points),
			"badges_count": gorm.Expr("badges_count + ?", 1),
			"updated_at":   i.now(),
		})
	if res.Error != nil {
		log.Printf("❌ [ISSUE] profile counters failed for %s: %v", sub.UserID, res.Error)
	} else if res.RowsAffected == 0 {
		log.Printf("⚠️ [ISSUE] No profile %s to credit %d points", sub.UserID, ch.Points)
	}
}

func (i *Issuer) archive(rec *models.BadgeRecord, title string, doc []byte) {
	if i.opts.Archive == nil {
		return
	}
	key := rec.SubmissionID + ".json"
	if i.opts.ArchiveKey != nil {
		key = i.opts.ArchiveKey(title, rec.SubmissionID)
	}
	id := rec.ID

	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		url, err := i.opts.Archive.Put(ctx, key, doc)
		if err != nil {
			log.Printf("⚠️ [ARCHIVE] %s: %v", key, err)
			return
		}
		if err := i.DB.WithContext(ctx).Model(&models.BadgeRecord{}).Where("id = ?", id).
			Update("archive_uri", url).Error; err != nil {
			log.Printf("⚠️ [ARCHIVE] Uploaded %s but failed to record it: %v", url, err)
			return
		}
		log.Printf("📦 [ARCHIVE] %s → %s", key, url)
	}()
}

// Wait blocks until background archive uploads finish.
func (i *Issuer) Wait() { i.pending.Wait() }

// Remint retries the mint for a degraded record with its stored proof hash
// and metadata, so the on-chain commitment matches the original issuance.
func (i *Issuer) Remint(ctx context.Context, rec *models.BadgeRecord) (*chain.MintReceipt, error) {
	if i.Chain == nil || !i.Chain.Configured() {
		return nil, chain.ErrNotConfigured
	}
	if !chain.IsAddress(rec.WalletAddress) {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, rec.WalletAddress)
	}
	mintCtx, cancel := context.WithTimeout(ctx, i.opts.MintTimeout)
	defer cancel()
	return i.Chain.MintBadge(mintCtx, chain.MintRequest{
		To:              common.HexToAddress(rec.WalletAddress),
		ChallengeIDHash: chain.ChallengeIDHash(rec.ChallengeID),
		ProofHash:       common.HexToHash(rec.ProofHash),
		MetadataURI:     rec.MetadataURI,
	})
}

// VerifyProof recomputes a record's proof hash from its stored inputs.
func VerifyProof(rec *models.BadgeRecord) bool {
	return chain.ProofHash(rec.ChallengeID, rec.UserID, rec.SubmissionID, rec.IssuedAtMillis).Hex() == rec.ProofHash
}

// RecordDegraded stores a degraded badge for a submission that was approved
// without one. The supplied tx marker is kept when it is a real hash.
func (i *Issuer) RecordDegraded(ctx context.Context, sub *models.Submission, ch *models.Challenge, wallet string, issuedAt time.Time, reason string) (*models.BadgeRecord, error) {
	rec, _, err := i.draft(sub, ch, wallet, issuedAt)
	if err != nil {
		return nil, err
	}
	rec.Mode = models.ModeDegraded
	rec.LastError = reason
	rec.TokenID = placeholderToken(sub.ID)
	rec.TxSignature = placeholderTx(models.SimulatedTxPrefix, issuedAt)
	if sub.TxSignature != nil && strings.HasPrefix(*sub.TxSignature, "0x") {
		rec.TxSignature = *sub.TxSignature
	}
	if sub.MetadataURI != nil && *sub.MetadataURI != "" {
		rec.MetadataURI = *sub.MetadataURI
	}
	if err := i.DB.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyMinted
		}
		return nil, fmt.Errorf("%w: backfill badge: %v", ErrPersistenceFailure, err)
	}
	metrics.IncIssuance(string(rec.Mode))
	return rec, nil
}
