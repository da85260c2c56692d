package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/metrics"
	"proof-badge-system/models"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// Reconciler repairs the derived state that the issuance path only updates
// best-effort: profile counters, challenge completions, missing or stalled
// badge records and degraded mints.
type Reconciler struct {
	DB       *gorm.DB
	Issuer   *Issuer
	Identity *IdentityResolver
	now      Clock
}

func NewReconciler(db *gorm.DB, issuer *Issuer, identity *IdentityResolver, now Clock) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{DB: db, Issuer: issuer, Identity: identity, now: now}
}

type ProfileTotals struct {
	ProfileID   string `json:"profile_id"`
	TotalPoints int64  `json:"total_points"`
	BadgesCount int64  `json:"badges_count"`
	Changed     bool   `json:"changed"`
}

// Recompute rebuilds one profile's counters from badge records and approved
// submissions.
func (r *Reconciler) Recompute(ctx context.Context, profileID string) (*ProfileTotals, error) {
	var p models.Profile
	if err := r.DB.WithContext(ctx).Where("id = ?", profileID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
		}
		return nil, err
	}

	var badges int64
	if err := r.DB.WithContext(ctx).Model(&models.BadgeRecord{}).
		Where("user_id = ?", profileID).Count(&badges).Error; err != nil {
		return nil, err
	}

	var points int64
	if err := r.DB.WithContext(ctx).Table("submissions").
		Select("COALESCE(SUM(challenges.points), 0)").
		Joins("JOIN challenges ON challenges.id = submissions.challenge_id").
		Where("submissions.user_id = ? AND submissions.status = ?", profileID, models.StatusApproved).
		Scan(&points).Error; err != nil {
		return nil, err
	}

	totals := &ProfileTotals{ProfileID: profileID, TotalPoints: points, BadgesCount: badges}
	if p.TotalPoints == points && p.BadgesCount == badges {
		return totals, nil
	}
	if err := r.DB.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", profileID).
		UpdateColumns(map[string]interface{}{
			"total_points": points,
			"badges_count": badges,
			"updated_at":   r.now(),
		}).Error; err != nil {
		return nil, err
	}
	totals.Changed = true
	log.Printf("🔧 [RECONCILE] %s: points %d → %d, badges %d → %d", profileID, p.TotalPoints, points, p.BadgesCount, badges)
	return totals, nil
}

type ReconcileReport struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

func (r *Reconciler) RecomputeAll(ctx context.Context) (*ReconcileReport, error) {
	var ids []string
	if err := r.DB.WithContext(ctx).Model(&models.Profile{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	report := &ReconcileReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		totals, err := r.Recompute(ctx, id)
		if err != nil {
			report.Failed++
			log.Printf("❌ [RECONCILE] profile %s: %v", id, err)
			continue
		}
		if totals.Changed {
			report.Changed++
		}
	}
	log.Printf("✅ [RECONCILE] Profiles scanned=%d changed=%d failed=%d", report.Scanned, report.Changed, report.Failed)
	return report, nil
}

// RecomputeChallenges sets completions_count to the number of approved
// submissions per challenge.
func (r *Reconciler) RecomputeChallenges(ctx context.Context) (*ReconcileReport, error) {
	var ids []string
	if err := r.DB.WithContext(ctx).Model(&models.Challenge{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	report := &ReconcileReport{}
	for _, id := range ids {
		report.Scanned++
		changed, err := r.recomputeChallenge(ctx, id)
		if err != nil {
			report.Failed++
			log.Printf("❌ [RECONCILE] challenge %s: %v", id, err)
			continue
		}
		if changed {
			report.Changed++
		}
	}
	return report, nil
}

func (r *Reconciler) recomputeChallenge(ctx context.Context, id string) (bool, error) {
	var completions int64
	if err := r.DB.WithContext(ctx).Model(&models.Submission{}).
		Where("challenge_id = ? AND status = ?", id, models.StatusApproved).
		Count(&completions).Error; err != nil {
		return false, err
	}
	res := r.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND completions_count <> ?", id, completions).
		UpdateColumn("completions_count", completions)
	return res.RowsAffected > 0, res.Error
}

// BackfillBadges gives every approved submission without a badge record a
// degraded one, so the upgrade job can mint it later.
func (r *Reconciler) BackfillBadges(ctx context.Context) (*ReconcileReport, error) {
	var subs []models.Submission
	err := r.DB.WithContext(ctx).
		Preload("Challenge").
		Joins("LEFT JOIN badge_records ON badge_records.submission_id = submissions.id").
		Where("submissions.status = ? AND badge_records.id IS NULL", models.StatusApproved).
		Order("submissions.created_at").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	touched := map[string]bool{}
	for idx := range subs {
		sub := &subs[idx]
		report.Scanned++
		if sub.Challenge == nil {
			report.Failed++
			log.Printf("⚠️ [RECONCILE] Submission %s has no challenge %s", sub.ID, sub.ChallengeID)
			continue
		}
		wallet, _, err := r.Identity.Resolve(ctx, sub.UserID)
		if err != nil {
			report.Failed++
			continue
		}
		issuedAt := r.now()
		if sub.MintedAt != nil {
			issuedAt = *sub.MintedAt
		}
		rec, err := r.Issuer.RecordDegraded(ctx, sub, sub.Challenge, wallet, issuedAt, "backfilled from approved submission")
		if errors.Is(err, ErrAlreadyMinted) {
			continue
		}
		if err != nil {
			report.Failed++
			log.Printf("❌ [RECONCILE] Backfill %s: %v", sub.ID, err)
			continue
		}
		report.Changed++
		touched[sub.UserID] = true
		log.Printf("🧩 [RECONCILE] Backfilled badge %s for submission %s", rec.ID, sub.ID)
	}
	for userID := range touched {
		if _, err := r.Recompute(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("❌ [RECONCILE] profile %s after backfill: %v", userID, err)
		}
	}
	return report, nil
}

// FinalizeStalled turns reservations older than olderThan into degraded
// badges and approves their submissions. Such rows are left behind when a
// process dies between reserving and finalizing.
func (r *Reconciler) FinalizeStalled(ctx context.Context, olderThan time.Duration) (*ReconcileReport, error) {
	cutoff := r.now().Add(-olderThan)
	var recs []models.BadgeRecord
	if err := r.DB.WithContext(ctx).
		Where("mode = ? AND created_at < ?", models.ModeReserved, cutoff).
		Find(&recs).Error; err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for idx := range recs {
		rec := &recs[idx]
		report.Scanned++

		// A pending marker makes the upgrade job check the chain before minting again.
		marker := placeholderTx(models.PendingTxPrefix, time.UnixMilli(rec.IssuedAtMillis))
		res := r.DB.WithContext(ctx).Model(&models.BadgeRecord{}).
			Where("id = ? AND mode = ?", rec.ID, models.ModeReserved).
			Updates(map[string]interface{}{
				"mode":         models.ModeDegraded,
				"tx_signature": marker,
				"token_id":     placeholderToken(rec.SubmissionID),
				"last_error":   "issuance did not finish",
			})
		if res.Error != nil {
			report.Failed++
			log.Printf("❌ [RECONCILE] Finalize stalled %s: %v", rec.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		mintedAt := time.UnixMilli(rec.IssuedAtMillis)
		if err := r.DB.WithContext(ctx).Model(&models.Submission{}).
			Where("id = ? AND status = ?", rec.SubmissionID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":       models.StatusApproved,
				"mint_address": rec.MintAddress,
				"metadata_uri": rec.MetadataURI,
				"tx_signature": marker,
				"minted_at":    mintedAt,
				"updated_at":   r.now(),
			}).Error; err != nil {
			report.Failed++
			log.Printf("❌ [RECONCILE] Approve stalled submission %s: %v", rec.SubmissionID, err)
			continue
		}
		if _, err := r.recomputeChallenge(ctx, rec.ChallengeID); err != nil {
			log.Printf("⚠️ [RECONCILE] challenge %s: %v", rec.ChallengeID, err)
		}
		if _, err := r.Recompute(ctx, rec.UserID); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("⚠️ [RECONCILE] profile %s: %v", rec.UserID, err)
		}
		report.Changed++
		log.Printf("🧯 [RECONCILE] Finalized stalled issuance for submission %s as degraded", rec.SubmissionID)
	}
	return report, nil
}

type UpgradeReport struct {
	Scanned        int `json:"scanned"`
	Upgraded       int `json:"upgraded"`
	AlreadyOnChain int `json:"already_on_chain"`
	Failed         int `json:"failed"`
}

// UpgradeDegraded mints up to limit degraded badges now that the chain is
// reachable. A wallet that already holds the challenge badge is not minted
// again; its record is marked on-chain with the broadcast tx hash when one is
// known.
func (r *Reconciler) UpgradeDegraded(ctx context.Context, limit int) (*UpgradeReport, error) {
	gw := r.Issuer.Chain
	if gw == nil || !gw.Configured() {
		return nil, chain.ErrNotConfigured
	}
	if limit <= 0 {
		limit = 25
	}

	var recs []models.BadgeRecord
	if err := r.DB.WithContext(ctx).
		Where("mode = ?", models.ModeDegraded).
		Order("created_at").Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}

	report := &UpgradeReport{}
	for idx := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := &recs[idx]
		report.Scanned++

		if !chain.IsAddress(rec.WalletAddress) {
			wallet, found, err := r.Identity.Resolve(ctx, rec.UserID)
			if err != nil || !found {
				report.Failed++
				r.noteFailure(ctx, rec, "no wallet for user")
				continue
			}
			if err := r.DB.WithContext(ctx).Model(&models.BadgeRecord{}).Where("id = ?", rec.ID).
				Update("wallet_address", wallet).Error; err != nil {
				report.Failed++
				r.noteFailure(ctx, rec, "could not store resolved wallet: "+err.Error())
				continue
			}
			rec.WalletAddress = wallet
		}

		has, err := gw.HasChallengeBadge(ctx, common.HexToAddress(rec.WalletAddress), chain.ChallengeIDHash(rec.ChallengeID))
		if err != nil {
			metrics.IncChainError("has_challenge_badge")
			report.Failed++
			r.noteFailure(ctx, rec, err.Error())
			continue
		}
		if has {
			if err := r.markHeld(ctx, rec); err != nil {
				report.Failed++
				log.Printf("❌ [UPGRADE] Could not mark submission %s on chain: %v", rec.SubmissionID, err)
				continue
			}
			report.AlreadyOnChain++
			continue
		}

		receipt, err := r.Issuer.Remint(ctx, rec)
		if err != nil {
			if hash := broadcastHash(err); hash != "" {
				// Keep the hash so the next pass can record it.
				r.setTx(context.WithoutCancel(ctx), rec, models.PendingTxPrefix+hash)
			}
			metrics.IncChainError("remint")
			report.Failed++
			r.noteFailure(ctx, rec, err.Error())
			log.Printf("❌ [UPGRADE] Remint for submission %s failed: %v", rec.SubmissionID, err)
			continue
		}

		persistCtx := context.WithoutCancel(ctx)
		if err := r.DB.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.BadgeRecord{}).Where("id = ?", rec.ID).
				Updates(map[string]interface{}{
					"mode":         models.ModeOnChain,
					"tx_signature": receipt.TxHash,
					"token_id":     receipt.TokenID.String(),
					"last_error":   "",
				}).Error; err != nil {
				return err
			}
			return tx.Model(&models.Submission{}).Where("id = ?", rec.SubmissionID).
				Update("tx_signature", receipt.TxHash).Error
		}); err != nil {
			metrics.IncPersistenceFailure()
			report.Failed++
			log.Printf("🚨 [UPGRADE] PERSISTENCE FAILURE after remint: wallet=%s challenge=%s submission=%s tx=%s err=%v",
				rec.WalletAddress, rec.ChallengeID, rec.SubmissionID, receipt.TxHash, err)
			continue
		}
		metrics.IncIssuance(string(models.ModeOnChain))
		report.Upgraded++
		log.Printf("⬆️ [UPGRADE] Submission %s minted as token %s (tx %s)", rec.SubmissionID, receipt.TokenID, receipt.TxHash)
	}

	if stats, err := r.Stats(ctx); err == nil {
		metrics.SetDegraded(stats.Degraded)
	}
	return report, nil
}

// markHeld records a badge the wallet already holds on chain. A known
// broadcast hash replaces the marker; otherwise the tx needs a manual lookup.
func (r *Reconciler) markHeld(ctx context.Context, rec *models.BadgeRecord) error {
	hash, known := rec.BroadcastTxHash()
	if !known {
		log.Printf("🔍 [UPGRADE] %s already holds challenge %s badge; look up tx for submission %s (marker %s)",
			rec.WalletAddress, rec.ChallengeID, rec.SubmissionID, rec.TxSignature)
		return r.DB.WithContext(ctx).Model(&models.BadgeRecord{}).Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"mode":       models.ModeOnChain,
				"last_error": "already held on chain; tx hash needs manual lookup",
			}).Error
	}
	log.Printf("🔍 [UPGRADE] %s already holds challenge %s badge from tx %s", rec.WalletAddress, rec.ChallengeID, hash)
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BadgeRecord{}).Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"mode":         models.ModeOnChain,
				"tx_signature": hash,
				"last_error":   "",
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Submission{}).Where("id = ?", rec.SubmissionID).
			Update("tx_signature", hash).Error
	})
}

// broadcastHash returns the hash of a mint that reached the chain even
// though err was returned.
func broadcastHash(err error) string {
	var unindexed *chain.UnindexedMintError
	if errors.As(err, &unindexed) {
		return unindexed.TxHash
	}
	var pending *chain.PendingTxError
	if errors.As(err, &pending) {
		return pending.TxHash
	}
	return ""
}

// setTx rewrites the tx marker on a record and its submission.
func (r *Reconciler) setTx(ctx context.Context, rec *models.BadgeRecord, marker string) {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BadgeRecord{}).Where("id = ?", rec.ID).
			Update("tx_signature", marker).Error; err != nil {
			return err
		}
		return tx.Model(&models.Submission{}).Where("id = ?", rec.SubmissionID).
			Update("tx_signature", marker).Error
	})
	if err != nil {
		log.Printf("⚠️ [UPGRADE] Could not store tx marker %s for %s: %v", marker, rec.SubmissionID, err)
		return
	}
	rec.TxSignature = marker
}

func (r *Reconciler) noteFailure(ctx context.Context, rec *models.BadgeRecord, reason string) {
	if err := r.DB.WithContext(ctx).Model(&models.BadgeRecord{}).Where("id = ?", rec.ID).
		Update("last_error", reason).Error; err != nil {
		log.Printf("⚠️ [UPGRADE] Could not record failure for %s: %v", rec.ID, err)
	}
}

type BadgeStats struct {
	Reserved int64 `json:"reserved"`
	OnChain  int64 `json:"onchain"`
	Degraded int64 `json:"degraded"`
}

func (r *Reconciler) Stats(ctx context.Context) (*BadgeStats, error) {
	var rows []struct {
		Mode  models.IssuanceMode
		Total int64
	}
	if err := r.DB.WithContext(ctx).Model(&models.BadgeRecord{}).
		Select("mode, COUNT(*) AS total").Group("mode").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	stats := &BadgeStats{}
	for _, row := range rows {
		switch row.Mode {
		case models.ModeReserved:
			stats.Reserved = row.Total
		case models.ModeOnChain:
			stats.OnChain = row.Total
		case models.ModeDegraded:
			stats.Degraded = row.Total
		}
	}
	return stats, nil
}
