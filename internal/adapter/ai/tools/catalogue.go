// Package tools assembles the catalogue exposed to the inference gateway:
// cached read tools, read-only explainability tools, and action shims that
// enqueue outbound work instead of calling the Instagram API directly.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/ai"
	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/domain"
)

// Deps carries everything the catalogue reads from or writes to.
type Deps struct {
	Accounts domain.AccountRepository
	Comments domain.CommentRepository
	DMs      domain.DMRepository
	Audit    domain.AuditRepository
	Reports  domain.ReportRepository
	Queue    domain.Queue
	Backend  domain.Backend

	PostCtxCache *cache.TwoTier[domain.PostContext]
	AccountCache *cache.TwoTier[domain.Account]
}

// Catalogue builds the full tool list.
func Catalogue(d Deps) []ai.Tool {
	return []ai.Tool{
		d.getPostContext(),
		d.getAccountInfo(),
		d.getRecentComments(),
		d.getDMHistory(),
		d.getDMConversation(),
		d.getPostPerformance(),
		d.queryAuditLog(),
		d.getRunSummary(),
		d.enqueueAction(),
	}
}

func strArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok && v > 0 {
		return int(v)
	}
	return def
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// getPostContext reads the cached context around one media object, falling
// back to the backend proxy on a miss.
func (d Deps) getPostContext() ai.Tool {
	return ai.Tool{
		Name:        "get_post_context",
		Description: "Fetch caption, media type, and engagement counts for an Instagram media id.",
		Parameters: objectSchema(map[string]any{
			"media_id":            map[string]any{"type": "string"},
			"business_account_id": map[string]any{"type": "string"},
		}, "media_id", "business_account_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			mediaID := strArg(args, "media_id")
			accountID := strArg(args, "business_account_id")
			if mediaID == "" {
				return nil, fmt.Errorf("media_id is required")
			}
			return d.PostCtxCache.GetOrLoad(ctx, accountID+":"+mediaID, func(ctx context.Context) (domain.PostContext, error) {
				resp, err := d.Backend.Post(ctx, backend.EndpointMediaInsights, map[string]any{
					"media_id":            mediaID,
					"business_account_id": accountID,
				})
				if err != nil {
					return domain.PostContext{}, err
				}
				pc := domain.PostContext{MediaID: mediaID}
				pc.Caption, _ = resp["caption"].(string)
				pc.MediaType, _ = resp["media_type"].(string)
				pc.EngagementRate, _ = resp["engagement_rate"].(float64)
				if v, ok := resp["like_count"].(float64); ok {
					pc.LikeCount = int(v)
				}
				if v, ok := resp["comments_count"].(float64); ok {
					pc.CommentsCount = int(v)
				}
				return pc, nil
			})
		},
	}
}

func (d Deps) getAccountInfo() ai.Tool {
	return ai.Tool{
		Name:        "get_account_info",
		Description: "Fetch the tracked business account profile.",
		Parameters: objectSchema(map[string]any{
			"business_account_id": map[string]any{"type": "string"},
		}, "business_account_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			id := strArg(args, "business_account_id")
			return d.AccountCache.GetOrLoad(ctx, id, func(ctx context.Context) (domain.Account, error) {
				return d.Accounts.Get(ctx, id)
			})
		},
	}
}

func (d Deps) getRecentComments() ai.Tool {
	return ai.Tool{
		Name:        "get_recent_comments",
		Description: "List the latest ingested comments for an account.",
		Parameters: objectSchema(map[string]any{
			"business_account_id": map[string]any{"type": "string"},
			"limit":               map[string]any{"type": "integer"},
		}, "business_account_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			return d.Comments.Recent(ctx, strArg(args, "business_account_id"), intArg(args, "limit", 10))
		},
	}
}

func (d Deps) getDMHistory() ai.Tool {
	return ai.Tool{
		Name:        "get_dm_history",
		Description: "List recent DM messages with one sender, newest first.",
		Parameters: objectSchema(map[string]any{
			"sender_id":           map[string]any{"type": "string"},
			"business_account_id": map[string]any{"type": "string"},
			"limit":               map[string]any{"type": "integer"},
		}, "sender_id", "business_account_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			return d.DMs.History(ctx, strArg(args, "sender_id"),
				strArg(args, "business_account_id"), intArg(args, "limit", 10))
		},
	}
}

func (d Deps) getDMConversation() ai.Tool {
	return ai.Tool{
		Name:        "get_dm_conversation",
		Description: "Fetch conversation state for one sender: last inbound time, message count, customer value.",
		Parameters: objectSchema(map[string]any{
			"sender_id":           map[string]any{"type": "string"},
			"business_account_id": map[string]any{"type": "string"},
		}, "sender_id", "business_account_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			conv, err := d.DMs.Conversation(ctx, strArg(args, "sender_id"), strArg(args, "business_account_id"))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"sender_id":       conv.SenderID,
				"message_count":   conv.MessageCount,
				"customer_ltv":    conv.CustomerLTV,
				"within_24h":      conv.WithinWindow(time.Now()),
				"last_inbound_at": conv.LastInboundAt,
			}, nil
		},
	}
}

func (d Deps) getPostPerformance() ai.Tool {
	return ai.Tool{
		Name:        "get_post_performance",
		Description: "List recently published posts with engagement metrics for an account.",
		Parameters: objectSchema(map[string]any{
			"business_account_id": map[string]any{"type": "string"},
			"days":                map[string]any{"type": "integer"},
		}, "business_account_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			days := intArg(args, "days", 7)
			since := time.Now().AddDate(0, 0, -days)
			return d.Reports.RecentPosts(ctx, strArg(args, "business_account_id"), since)
		},
	}
}

func (d Deps) queryAuditLog() ai.Tool {
	return ai.Tool{
		Name:        "query_audit_log",
		Description: "Query the decision audit log, filtered by event type, resource, or date range.",
		Parameters: objectSchema(map[string]any{
			"business_account_id": map[string]any{"type": "string"},
			"event_type":          map[string]any{"type": "string"},
			"resource_type":       map[string]any{"type": "string"},
			"resource_id":         map[string]any{"type": "string"},
			"since_days":          map[string]any{"type": "integer"},
			"limit":               map[string]any{"type": "integer"},
		}, "business_account_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			f := domain.AuditFilter{
				AccountID:    strArg(args, "business_account_id"),
				EventType:    strArg(args, "event_type"),
				ResourceType: strArg(args, "resource_type"),
				ResourceID:   strArg(args, "resource_id"),
				Limit:        intArg(args, "limit", 20),
			}
			if days := intArg(args, "since_days", 0); days > 0 {
				f.Since = time.Now().AddDate(0, 0, -days)
			}
			return d.Audit.Query(ctx, f)
		},
	}
}

func (d Deps) getRunSummary() ai.Tool {
	return ai.Tool{
		Name:        "get_run_summary",
		Description: "Summarize one pipeline run from its audit trail.",
		Parameters: objectSchema(map[string]any{
			"run_id": map[string]any{"type": "string"},
		}, "run_id"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			entries, err := d.Audit.Query(ctx, domain.AuditFilter{
				ResourceID: strArg(args, "run_id"),
				Limit:      100,
			})
			if err != nil {
				return nil, err
			}
			success, failed := 0, 0
			for _, e := range entries {
				if e.Success {
					success++
				} else {
					failed++
				}
			}
			return map[string]any{
				"run_id":  strArg(args, "run_id"),
				"entries": entries,
				"success": success,
				"failed":  failed,
			}, nil
		},
	}
}

// enqueueAction is the only write surface the model has. It never calls the
// backend directly; everything funnels through the durable queue.
func (d Deps) enqueueAction() ai.Tool {
	endpoints := map[domain.ActionType]string{
		domain.ActionReplyComment: backend.EndpointReplyComment,
		domain.ActionReplyDM:      backend.EndpointReplyDM,
	}
	return ai.Tool{
		Name:        "enqueue_action",
		Description: "Queue an outbound reply (reply_comment or reply_dm) for durable delivery.",
		Parameters: objectSchema(map[string]any{
			"action_type":         map[string]any{"type": "string", "enum": []string{"reply_comment", "reply_dm"}},
			"business_account_id": map[string]any{"type": "string"},
			"target_id":           map[string]any{"type": "string"},
			"text":                map[string]any{"type": "string"},
		}, "action_type", "business_account_id", "target_id", "text"),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			action := domain.ActionType(strArg(args, "action_type"))
			endpoint, ok := endpoints[action]
			if !ok {
				return nil, fmt.Errorf("action type %q not allowed from tools", action)
			}
			targetID := strArg(args, "target_id")
			res := d.Queue.Enqueue(ctx, domain.Job{
				ActionType: action,
				Priority:   domain.PriorityHigh,
				Endpoint:   endpoint,
				Payload: map[string]any{
					"business_account_id": strArg(args, "business_account_id"),
					"target_id":           targetID,
					"text":                strArg(args, "text"),
				},
				AccountID:      strArg(args, "business_account_id"),
				IdempotencyKey: fmt.Sprintf("%s:%s", action, targetID),
				Source:         "llm_tool",
			})
			return res, nil
		},
	}
}
