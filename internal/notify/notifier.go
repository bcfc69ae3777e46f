// Package notify is the fire-and-forget side channel invoked on order state
// transitions. Notifications are persisted and, when Redis is configured,
// published for realtime delivery; failures are logged, never surfaced.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Type string

const (
	TypeOrder Type = "ORDER"
	TypeEvent Type = "EVENT"
)

// Target is the tagged recipient of a notification. Explicit variants replace
// the magic recipient-id sentinel some systems use for broadcasts.
type Target struct {
	kind   targetKind
	userID int64
}

type targetKind int

const (
	targetUser targetKind = iota
	targetAllAdmins
	targetAllUsers
)

func User(id int64) Target { return Target{kind: targetUser, userID: id} }
func AllAdmins() Target    { return Target{kind: targetAllAdmins} }
func AllUsers() Target     { return Target{kind: targetAllUsers} }

func (t Target) String() string {
	switch t.kind {
	case targetAllAdmins:
		return "all-admins"
	case targetAllUsers:
		return "all-users"
	default:
		return fmt.Sprintf("user:%d", t.userID)
	}
}

type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        Type      `json:"type"`
	URL         string    `json:"url,omitempty"`
	Read        bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

const channel = "notifications"

type Dispatcher struct {
	db  *pgxpool.Pool
	rdb *redis.Client // nil when realtime delivery is not configured
}

func NewDispatcher(db *pgxpool.Pool, redisAddr string) *Dispatcher {
	d := &Dispatcher{db: db}
	if redisAddr != "" {
		d.rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return d
}

// Notify persists one notification per resolved recipient and publishes each
// to the realtime channel. Best effort end to end: the caller treats any
// returned error as log-and-continue.
func (d *Dispatcher) Notify(ctx context.Context, target Target, title, description string, typ Type, url string) error {
	recipients, err := d.resolve(ctx, target)
	if err != nil {
		return fmt.Errorf("notify: failed to resolve target %s: %w", target, err)
	}

	for _, userID := range recipients {
		var n Notification
		err := d.db.QueryRow(ctx, `
			INSERT INTO notifications (recipient_id, title, description, type, url, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
			RETURNING id, recipient_id, title, description, type, url, is_read, created_at
		`, userID, title, description, typ, url).
			Scan(&n.ID, &n.RecipientID, &n.Title, &n.Description, &n.Type, &n.URL, &n.Read, &n.CreatedAt)
		if err != nil {
			return fmt.Errorf("notify: failed to persist notification for user %d: %w", userID, err)
		}
		d.publish(ctx, &n)
	}
	return nil
}

func (d *Dispatcher) resolve(ctx context.Context, target Target) ([]int64, error) {
	switch target.kind {
	case targetUser:
		return []int64{target.userID}, nil
	case targetAllAdmins:
		return d.userIDs(ctx, `SELECT id FROM users WHERE role = 'ADMIN'`)
	default:
		return d.userIDs(ctx, `SELECT id FROM users`)
	}
}

func (d *Dispatcher) userIDs(ctx context.Context, query string) ([]int64, error) {
	rows, err := d.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Dispatcher) publish(ctx context.Context, n *Notification) {
	if d.rdb == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := d.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		log.Warn().Err(err).Int64("recipient", n.RecipientID).Msg("notify: realtime publish failed")
	}
}

// ListByRecipient returns a user's notifications, newest first.
func (d *Dispatcher) ListByRecipient(ctx context.Context, userID int64, page, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}
	rows, err := d.db.Query(ctx, `
		SELECT id, recipient_id, title, description, type, url, is_read, created_at
		FROM notifications WHERE recipient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Description, &n.Type, &n.URL, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
