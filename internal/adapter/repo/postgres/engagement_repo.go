package postgres

import (
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/socialops/oversight-agent/internal/domain"
)

// CommentRepo backs the engagement monitor's comment sweep.
type CommentRepo struct{ db *DB }

func NewCommentRepo(db *DB) *CommentRepo { return &CommentRepo{db: db} }

// ListUnprocessed returns unhandled comments newer than since, oldest first so
// replies land in conversation order.
func (r *CommentRepo) ListUnprocessed(ctx domain.Context, accountID string, limit int, since time.Time) ([]domain.Comment, error) {
	var out []domain.Comment
	err := r.db.run(ctx, "comments", "list_unprocessed", func(ctx domain.Context) error {
		q := `SELECT id, instagram_comment_id, media_id, business_account_id,
				author_username, text, processed, created_at
			FROM instagram_comments
			WHERE business_account_id=$1 AND processed=false AND created_at > $2
			ORDER BY created_at ASC LIMIT $3`
		rows, err := r.db.Pool.Query(ctx, q, accountID, since.UTC(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c domain.Comment
			if err := rows.Scan(&c.ID, &c.InstagramCommentID, &c.MediaID, &c.AccountID,
				&c.AuthorUsername, &c.Text, &c.Processed, &c.CreatedAt); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// MarkProcessed flags a comment so the next sweep skips it.
func (r *CommentRepo) MarkProcessed(ctx domain.Context, commentID string) error {
	return r.db.run(ctx, "comments", "mark_processed", func(ctx domain.Context) error {
		q := `UPDATE instagram_comments SET processed=true, processed_at=$2 WHERE id=$1`
		_, err := r.db.Pool.Exec(ctx, q, commentID, time.Now().UTC())
		return err
	})
}

// Recent returns the latest comments for an account, newest first.
func (r *CommentRepo) Recent(ctx domain.Context, accountID string, limit int) ([]domain.Comment, error) {
	var out []domain.Comment
	err := r.db.run(ctx, "comments", "recent", func(ctx domain.Context) error {
		q := `SELECT id, instagram_comment_id, media_id, business_account_id,
				author_username, text, processed, created_at
			FROM instagram_comments
			WHERE business_account_id=$1 ORDER BY created_at DESC LIMIT $2`
		rows, err := r.db.Pool.Query(ctx, q, accountID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c domain.Comment
			if err := rows.Scan(&c.ID, &c.InstagramCommentID, &c.MediaID, &c.AccountID,
				&c.AuthorUsername, &c.Text, &c.Processed, &c.CreatedAt); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// DMRepo reads DM history and the conversation state behind the 24h rule.
type DMRepo struct{ db *DB }

func NewDMRepo(db *DB) *DMRepo { return &DMRepo{db: db} }

// History returns the latest messages with one sender, newest first.
func (r *DMRepo) History(ctx domain.Context, senderID, accountID string, limit int) ([]domain.DMMessage, error) {
	var out []domain.DMMessage
	err := r.db.run(ctx, "dms", "history", func(ctx domain.Context) error {
		q := `SELECT id, sender_id, business_account_id, direction, text, created_at
			FROM dm_messages
			WHERE sender_id=$1 AND business_account_id=$2
			ORDER BY created_at DESC LIMIT $3`
		rows, err := r.db.Pool.Query(ctx, q, senderID, accountID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m domain.DMMessage
			if err := rows.Scan(&m.ID, &m.SenderID, &m.AccountID, &m.Direction,
				&m.Text, &m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// Conversation loads the thread summary for one sender. A sender with no
// inbound history gets a zero LastInboundAt, which fails the 24h-window check.
func (r *DMRepo) Conversation(ctx domain.Context, senderID, accountID string) (domain.Conversation, error) {
	conv := domain.Conversation{SenderID: senderID, AccountID: accountID}
	err := r.db.run(ctx, "dms", "conversation", func(ctx domain.Context) error {
		q := `SELECT COALESCE(last_inbound_at, 'epoch'::timestamptz), message_count,
				COALESCE(customer_ltv, 0), COALESCE(customer_history, '{}')
			FROM dm_conversations
			WHERE sender_id=$1 AND business_account_id=$2`
		var history []byte
		var lastInbound time.Time
		err := r.db.Pool.QueryRow(ctx, q, senderID, accountID).
			Scan(&lastInbound, &conv.MessageCount, &conv.CustomerLTV, &history)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if lastInbound.Unix() > 0 {
			conv.LastInboundAt = lastInbound
		}
		if len(history) > 0 {
			_ = json.Unmarshal(history, &conv.CustomerHistory)
		}
		return nil
	})
	return conv, err
}
