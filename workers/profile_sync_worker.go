// workers/profile_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"proof-badge-system/models"
	"proof-badge-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirroredProfile matches the JSON the sync service returns for a profile.
type MirroredProfile struct {
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []MirroredProfile `json:"users"`
}

// ProfileSyncWorker keeps local profiles in step with the sync service so
// that submissions always have a profile to credit.
type ProfileSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewProfileSyncWorker(db *gorm.DB, baseURL, serviceToken string, interval time.Duration) *ProfileSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ProfileSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: "/api/v1/public/profiles",
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Profile Sync Worker (sync-service → profiles)…")
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ [SYNC] Initial profile sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncBatch(ctx, w.lastSyncTime()); err != nil {
				log.Printf("❌ [SYNC] Profile batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Profile Sync Worker stopped")
			return
		}
	}
}

func (w *ProfileSyncWorker) lastSyncTime() time.Time {
	var last models.Profile
	if err := w.db.Order("updated_at DESC").Select("updated_at").First(&last).Error; err != nil || last.UpdatedAt.IsZero() {
		return time.Unix(0, 0)
	}
	return last.UpdatedAt
}

// SyncBatch fetches profile changes since the given time and upserts them.
// Only identity columns are written; counters and wallets stay local.
func (w *ProfileSyncWorker) SyncBatch(ctx context.Context, since time.Time) (int, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("sync service non-200 response: %d — %s", resp.StatusCode, string(body))
	}

	var response profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode sync service response: %w", err)
	}

	upserted := 0
	for _, remote := range response.Users {
		if remote.ExternalID == "" {
			continue
		}
		local := models.Profile{ID: remote.ExternalID, Username: remote.Username}
		local.CreatedAt = remote.CreatedAt
		local.UpdatedAt = remote.UpdatedAt
		if err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
		}).Create(&local).Error; err != nil {
			log.Printf("[SYNC] ⚠️ Failed to upsert profile %q: %v", remote.ExternalID, err)
			continue
		}
		upserted++
	}
	if len(response.Users) > 0 {
		log.Printf("[SYNC] ✅ Synced %d profile(s), %d upserted", len(response.Users), upserted)
	}
	return upserted, nil
}
