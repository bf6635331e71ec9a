package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/ugc"
)

// UGCConfig tunes discovery, permission requests, and reposting.
type UGCConfig struct {
	HighThreshold      int
	ModerateThreshold  int
	ProductKeywords    []string
	AutoRequest        bool
	AutoRepost         bool
	MaxMediaPerHashtag int
	AccountConcurrency int64
}

// UGCDiscovery sweeps monitored hashtags and tagged media per account, scores
// survivors, and routes by tier. Granted permissions are swept on the same
// cycle when auto-repost is on.
type UGCDiscovery struct {
	cfg      UGCConfig
	accounts domain.AccountRepository
	records  domain.UGCRepository
	backend  domain.Backend
	queue    domain.Queue
	audit    domain.AuditRepository
	dedup    *DedupSet
	now      func() time.Time
}

// NewUGCDiscovery wires the pipeline.
func NewUGCDiscovery(
	cfg UGCConfig,
	accounts domain.AccountRepository,
	records domain.UGCRepository,
	proxy domain.Backend,
	queue domain.Queue,
	audit domain.AuditRepository,
	dedup *DedupSet,
) *UGCDiscovery {
	return &UGCDiscovery{
		cfg: cfg, accounts: accounts, records: records,
		backend: proxy, queue: queue, audit: audit, dedup: dedup, now: time.Now,
	}
}

// Run is one discovery cycle.
func (u *UGCDiscovery) Run(ctx context.Context) error {
	_, err := runPerAccount(ctx, "ugc_discovery", u.accounts, u.audit, u.cfg.AccountConcurrency,
		func(ctx context.Context, runID string, acct domain.Account) (int, error) {
			return u.discoverAccount(ctx, runID, acct)
		})
	return err
}

func (u *UGCDiscovery) discoverAccount(ctx context.Context, runID string, acct domain.Account) (int, error) {
	existing, err := u.records.ExistingMediaIDs(ctx, acct.ID)
	if err != nil {
		// Degraded store: discovery without the cross-cycle filter would
		// re-request permissions; stop here.
		return 0, err
	}

	seen := map[string]struct{}{}
	var candidates []mediaItem
	for _, tag := range acct.Hashtags {
		items, err := u.fetchHashtag(ctx, acct.ID, tag)
		if err != nil {
			slog.Warn("hashtag fetch failed",
				slog.String("account_id", acct.ID), slog.String("hashtag", tag), slog.Any("error", err))
			continue
		}
		for _, it := range items {
			if _, dup := seen[it.MediaID]; dup {
				continue
			}
			seen[it.MediaID] = struct{}{}
			if _, known := existing[it.MediaID]; known {
				continue
			}
			if u.dedup.Seen(ctx, it.MediaID) {
				continue
			}
			it.Hashtag = tag
			candidates = append(candidates, it)
		}
	}
	tagged, err := u.fetchTagged(ctx, acct.ID)
	if err == nil {
		for _, it := range tagged {
			if _, dup := seen[it.MediaID]; dup {
				continue
			}
			seen[it.MediaID] = struct{}{}
			if _, known := existing[it.MediaID]; known {
				continue
			}
			if u.dedup.Seen(ctx, it.MediaID) {
				continue
			}
			candidates = append(candidates, it)
		}
	}

	processed := 0
	for _, it := range candidates {
		u.scoreAndRoute(ctx, runID, acct, it)
		u.dedup.Add(ctx, it.MediaID)
		processed++
	}

	u.enqueueSync(ctx, runID, acct)
	if u.cfg.AutoRepost {
		u.sweepGranted(ctx, runID, acct)
	}
	return processed, nil
}

// mediaItem is one fetched media object from the proxy.
type mediaItem struct {
	MediaID        string
	AuthorUsername string
	MediaType      string
	MediaURL       string
	Permalink      string
	Caption        string
	LikeCount      int
	CommentsCount  int
	Hashtag        string
}

func (u *UGCDiscovery) fetchHashtag(ctx context.Context, accountID, tag string) ([]mediaItem, error) {
	resp, err := u.backend.Post(ctx, backend.EndpointSearchHashtag, map[string]any{
		"business_account_id": accountID,
		"hashtag":             tag,
		"limit":               u.cfg.MaxMediaPerHashtag,
	})
	if err != nil {
		return nil, err
	}
	return decodeMedia(resp), nil
}

func (u *UGCDiscovery) fetchTagged(ctx context.Context, accountID string) ([]mediaItem, error) {
	resp, err := u.backend.Post(ctx, backend.EndpointTags, map[string]any{
		"business_account_id": accountID,
	})
	if err != nil {
		return nil, err
	}
	return decodeMedia(resp), nil
}

func decodeMedia(resp map[string]any) []mediaItem {
	raw, _ := resp["media"].([]any)
	out := make([]mediaItem, 0, len(raw))
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		it := mediaItem{}
		it.MediaID, _ = m["id"].(string)
		it.AuthorUsername, _ = m["username"].(string)
		it.MediaType, _ = m["media_type"].(string)
		it.MediaURL, _ = m["media_url"].(string)
		it.Permalink, _ = m["permalink"].(string)
		it.Caption, _ = m["caption"].(string)
		if v, ok := m["like_count"].(float64); ok {
			it.LikeCount = int(v)
		}
		if v, ok := m["comments_count"].(float64); ok {
			it.CommentsCount = int(v)
		}
		if it.MediaID != "" {
			out = append(out, it)
		}
	}
	return out
}

func (u *UGCDiscovery) scoreAndRoute(ctx context.Context, runID string, acct domain.Account, it mediaItem) {
	score, factors := ugc.Score(ugc.Candidate{
		MediaID:        it.MediaID,
		AuthorUsername: it.AuthorUsername,
		MediaType:      it.MediaType,
		Caption:        it.Caption,
		LikeCount:      it.LikeCount,
		CommentsCount:  it.CommentsCount,
	}, []string{acct.Username}, u.cfg.ProductKeywords)
	tier := ugc.TierFor(score, u.cfg.HighThreshold, u.cfg.ModerateThreshold)

	if tier == domain.TierLow {
		return
	}

	rec := domain.UGCRecord{
		AccountID:        acct.ID,
		InstagramMediaID: it.MediaID,
		AuthorUsername:   it.AuthorUsername,
		MediaType:        it.MediaType,
		MediaURL:         it.MediaURL,
		Permalink:        it.Permalink,
		Caption:          it.Caption,
		LikeCount:        it.LikeCount,
		CommentsCount:    it.CommentsCount,
		Hashtag:          it.Hashtag,
		QualityScore:     score,
		QualityFactors:   factors,
		Tier:             tier,
	}
	if err := u.records.Upsert(ctx, rec); err != nil {
		slog.Warn("ugc upsert failed", slog.String("media_id", it.MediaID), slog.Any("error", err))
		return
	}

	action := "stored_for_review"
	details := map[string]any{
		"run_id": runID, "score": score, "factors": factors, "tier": string(tier),
	}
	if tier == domain.TierHigh {
		if err := u.records.CreatePermission(ctx, acct.ID, it.MediaID, it.AuthorUsername); err == nil {
			action = "permission_pending"
		}
		if u.cfg.AutoRequest {
			result := u.queue.Enqueue(ctx, domain.Job{
				ActionType: domain.ActionSendPermissionDM,
				Priority:   domain.PriorityNormal,
				Endpoint:   backend.EndpointSendDM,
				Payload: map[string]any{
					"business_account_id": acct.ID,
					"recipient_username":  it.AuthorUsername,
					"media_id":            it.MediaID,
					"permalink":           it.Permalink,
				},
				AccountID:      acct.ID,
				IdempotencyKey: "permission_dm:" + acct.ID + ":" + it.MediaID,
				Source:         "ugc_discovery",
			})
			details["job_id"] = result.JobID
			action = "permission_requested"
		}
	}
	_ = u.audit.Log(ctx, domain.AuditEntry{
		EventType:    "ugc_discovered",
		Action:       action,
		ResourceType: "ugc_content",
		ResourceID:   it.MediaID,
		AccountID:    acct.ID,
		Details:      details,
		Success:      true,
	})
}

// enqueueSync reconciles tagged posts once per hour bucket per account.
func (u *UGCDiscovery) enqueueSync(ctx context.Context, runID string, acct domain.Account) {
	bucket := u.now().UTC().Format("2006010215")
	result := u.queue.Enqueue(ctx, domain.Job{
		ActionType: domain.ActionSyncUGC,
		Priority:   domain.PriorityNormal,
		Endpoint:   backend.EndpointSyncUGC,
		Payload: map[string]any{
			"business_account_id": acct.ID,
		},
		AccountID:      acct.ID,
		IdempotencyKey: fmt.Sprintf("sync_ugc:%s:%s", acct.ID, bucket),
		Source:         "ugc_discovery",
	})
	_ = u.audit.Log(ctx, domain.AuditEntry{
		EventType:    "ugc_sync",
		Action:       "enqueued",
		ResourceType: "pipeline_run",
		ResourceID:   runID,
		AccountID:    acct.ID,
		Details: map[string]any{
			"job_id":       result.JobID,
			"deduplicated": result.Deduplicated,
			"hour_bucket":  bucket,
		},
		Success: result.Success,
	})
}

func (u *UGCDiscovery) sweepGranted(ctx context.Context, runID string, acct domain.Account) {
	granted, err := u.records.GrantedPermissions(ctx, acct.ID)
	if err != nil {
		slog.Warn("granted sweep failed", slog.String("account_id", acct.ID), slog.Any("error", err))
		return
	}
	for _, rec := range granted {
		result := u.queue.Enqueue(ctx, domain.Job{
			ActionType: domain.ActionRepostUGC,
			Priority:   domain.PriorityNormal,
			Endpoint:   backend.EndpointRepostUGC,
			Payload: map[string]any{
				"business_account_id": acct.ID,
				"media_id":            rec.InstagramMediaID,
				"media_url":           rec.MediaURL,
				"author_username":     rec.AuthorUsername,
			},
			AccountID:      acct.ID,
			IdempotencyKey: "repost_ugc:" + acct.ID + ":" + rec.InstagramMediaID,
			Source:         "ugc_discovery",
		})
		if result.Success && !result.Deduplicated {
			_ = u.records.UpdatePermission(ctx, acct.ID, rec.InstagramMediaID, domain.PermissionReposted)
		}
		_ = u.audit.Log(ctx, domain.AuditEntry{
			EventType:    "ugc_repost",
			Action:       "enqueued",
			ResourceType: "ugc_content",
			ResourceID:   rec.InstagramMediaID,
			AccountID:    acct.ID,
			Details:      map[string]any{"run_id": runID, "job_id": result.JobID},
			Success:      result.Success,
		})
	}
}
