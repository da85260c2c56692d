package services

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"

	"proof-badge-system/chain"
	"proof-badge-system/models"

	"gorm.io/gorm"
)

// WalletStrategy is one way of turning a submission's user id into the wallet
// that should receive the badge.
type WalletStrategy interface {
	Name() string
	TryResolve(ctx context.Context, userID string) (wallet string, ok bool, err error)
}

// IdentityResolver tries each strategy in order; the first hit wins.
type IdentityResolver struct {
	strategies []WalletStrategy
}

// NewIdentityResolver uses the standard order: profile by id, full address,
// unique address prefix, lowercase wallet lookup.
func NewIdentityResolver(db *gorm.DB) *IdentityResolver {
	return NewIdentityResolverWith(
		ProfileWalletStrategy{DB: db},
		FullAddressStrategy{},
		PrefixAddressStrategy{DB: db},
		LowercaseWalletStrategy{DB: db},
	)
}

func NewIdentityResolverWith(strategies ...WalletStrategy) *IdentityResolver {
	return &IdentityResolver{strategies: strategies}
}

func (r *IdentityResolver) Resolve(ctx context.Context, userID string) (string, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false, nil
	}
	for _, s := range r.strategies {
		wallet, ok, err := s.TryResolve(ctx, userID)
		if err != nil {
			return "", false, err
		}
		if ok {
			log.Printf("🔎 [IDENTITY] %s resolved via %s → %s", userID, s.Name(), wallet)
			return wallet, true, nil
		}
	}
	log.Printf("⚠️ [IDENTITY] No wallet for user %s", userID)
	return "", false, nil
}

// ProfileWalletStrategy reads profiles.wallet_address by primary key.
type ProfileWalletStrategy struct{ DB *gorm.DB }

func (ProfileWalletStrategy) Name() string { return "profile" }

func (s ProfileWalletStrategy) TryResolve(ctx context.Context, userID string) (string, bool, error) {
	var p models.Profile
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if w := strings.TrimSpace(p.Wallet()); w != "" {
		return w, true, nil
	}
	return "", false, nil
}

// FullAddressStrategy accepts a user id that already is a wallet address.
type FullAddressStrategy struct{}

func (FullAddressStrategy) Name() string { return "full-address" }

func (FullAddressStrategy) TryResolve(_ context.Context, userID string) (string, bool, error) {
	if chain.IsAddress(userID) {
		return userID, true, nil
	}
	return "", false, nil
}

// Shorter prefixes would match too many wallets to be meaningful.
const minPrefixHexDigits = 4

var partialAddress = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// PrefixAddressStrategy resolves a truncated address to the one stored wallet
// starting with it. Zero or several matches do not resolve.
type PrefixAddressStrategy struct{ DB *gorm.DB }

func (PrefixAddressStrategy) Name() string { return "address-prefix" }

func (s PrefixAddressStrategy) TryResolve(ctx context.Context, userID string) (string, bool, error) {
	digits := len(userID) - 2
	if !partialAddress.MatchString(userID) || digits < minPrefixHexDigits || digits >= 40 {
		return "", false, nil
	}
	var matches []models.Profile
	err := s.DB.WithContext(ctx).
		Where("LOWER(wallet_address) LIKE ?", strings.ToLower(userID)+"%").
		Limit(2).
		Find(&matches).Error
	if err != nil {
		return "", false, err
	}
	if len(matches) != 1 {
		if len(matches) > 1 {
			log.Printf("⚠️ [IDENTITY] Prefix %s is ambiguous", userID)
		}
		return "", false, nil
	}
	return matches[0].Wallet(), true, nil
}

// LowercaseWalletStrategy treats the user id as a wallet and looks for a
// profile holding it in lowercase form.
type LowercaseWalletStrategy struct{ DB *gorm.DB }

func (LowercaseWalletStrategy) Name() string { return "lowercase-wallet" }

func (s LowercaseWalletStrategy) TryResolve(ctx context.Context, userID string) (string, bool, error) {
	var p models.Profile
	err := s.DB.WithContext(ctx).Where("wallet_address = ?", strings.ToLower(userID)).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p.Wallet(), p.Wallet() != "", nil
}
