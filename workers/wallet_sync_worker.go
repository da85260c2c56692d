// workers/wallet_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/models"
	"proof-badge-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewWalletSyncClient(db *gorm.DB, baseURL, token string) *WalletSyncClient {
	return &WalletSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		DB:         db,
		HTTPClient: utils.HTTPClient,
	}
}

func (c *WalletSyncClient) GetChangedWallets(ctx context.Context, since time.Time) ([]models.WalletMirror, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/wallets", strings.TrimRight(c.BaseURL, "/")))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Wallets []models.WalletMirror `json:"wallets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Wallets, nil
}

// Upsert stores a batch of mirrored wallets keyed by address.
func (c *WalletSyncClient) Upsert(ctx context.Context, wallets []models.WalletMirror) error {
	if len(wallets) == 0 {
		return nil
	}
	return c.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"chain",
				"is_primary",
				"is_active",
				"updated_at",
			}),
		},
	).Create(&wallets).Error
}

// BackfillProfileWallets fills profiles that have no wallet from their
// mirrored wallets, preferring the primary one.
func (c *WalletSyncClient) BackfillProfileWallets(ctx context.Context) (int, error) {
	var profiles []models.Profile
	if err := c.DB.WithContext(ctx).
		Where("wallet_address IS NULL OR wallet_address = ''").
		Find(&profiles).Error; err != nil {
		return 0, err
	}

	filled := 0
	for _, p := range profiles {
		var w models.WalletMirror
		err := c.DB.WithContext(ctx).
			Where("user_id = ? AND is_active = ?", p.ID, true).
			Order("is_primary DESC, updated_at DESC").
			First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return filled, err
		}
		if !chain.IsAddress(w.Address) {
			log.Printf("⚠️ [SYNC] Mirrored wallet %q for %s is not an EVM address", w.Address, p.ID)
			continue
		}
		addr := strings.ToLower(w.Address)
		if err := c.DB.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", p.ID).
			Update("wallet_address", addr).Error; err != nil {
			return filled, err
		}
		filled++
		log.Printf("🔗 [SYNC] Profile %s wallet set to %s", p.ID, addr)
	}
	return filled, nil
}

// SyncOnce pulls wallet changes since the given time, stores them and
// backfills empty profile wallets.
func (c *WalletSyncClient) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	wallets, err := c.GetChangedWallets(ctx, since)
	if err != nil {
		return 0, err
	}
	if err := c.Upsert(ctx, wallets); err != nil {
		return 0, fmt.Errorf("failed to upsert %d wallet(s) into wallet_mirror: %w", len(wallets), err)
	}
	if _, err := c.BackfillProfileWallets(ctx); err != nil {
		log.Printf("❌ [SYNC] Profile wallet backfill failed: %v", err)
	}
	return len(wallets), nil
}

func PollWallets(ctx context.Context, client *WalletSyncClient, pollInterval time.Duration) {
	log.Println("Starting wallet polling (DB-backed)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Wallet polling stopped.")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()
			count, err := client.SyncOnce(ctx, lastSyncTime)
			if err != nil {
				// lastSyncTime stays put so the same window is retried next tick
				log.Printf("❌ Error polling wallets: %v", err)
				continue
			}
			lastSyncTime = tickTime
			if count > 0 {
				log.Printf("✅ Upserted %d wallet(s) into wallet_mirror table.", count)
			}
		}
	}
}
