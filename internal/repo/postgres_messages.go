package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jdc-telecom/smsgw/internal/model"
)

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) Insert(ctx context.Context, m model.Message) (int64, error) {
	if m.RecipientPhone == "" || m.Content == "" {
		return 0, errors.New("recipient_phone and content are required")
	}
	if m.SendAt.IsZero() {
		return 0, errors.New("send_at is required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_messages (recipient_phone, content, status, send_at, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, now(), now())
		RETURNING id
	`, m.RecipientPhone, m.Content, m.SendAt.UTC()).Scan(&id)
	return id, err
}

func (r *PostgresMessageRepo) ListScheduled(ctx context.Context) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient_phone, content, status, send_at, attempt_count,
		       last_error, sent_at, remote_message_id, created_at, updated_at
		FROM scheduled_messages
		WHERE status IN ('pending', 'processing')
		ORDER BY send_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *PostgresMessageRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM scheduled_messages
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, recipient_phone, content, status, send_at, attempt_count,
		       last_error, sent_at, remote_message_id, created_at, updated_at
		FROM scheduled_messages
		WHERE status = 'pending' AND send_at <= $1
		ORDER BY send_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}

	msgs, err := scanMessages(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	claimedAt := time.Now().UTC()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE scheduled_messages
			SET status = 'processing', updated_at = $2
			WHERE id = $1
		`, m.ID, claimedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].Status = model.Processing
		msgs[i].UpdatedAt = claimedAt
	}
	return msgs, nil
}

func (r *PostgresMessageRepo) MarkSent(ctx context.Context, id int64, remoteMessageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'sent',
		    sent_at = now(),
		    remote_message_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, remoteMessageID)
	return err
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'failed',
		    attempt_count = attempt_count + 1,
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, reason)
	return err
}

func (r *PostgresMessageRepo) ListSent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient_phone, content, status, send_at, attempt_count,
		       last_error, sent_at, remote_message_id, created_at, updated_at
		FROM scheduled_messages
		WHERE status = 'sent'
		ORDER BY sent_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		var m model.Message
		var status string
		var lastErr sql.NullString
		var sentAt sql.NullTime
		var remoteID sql.NullString

		if err := rows.Scan(
			&m.ID,
			&m.RecipientPhone,
			&m.Content,
			&status,
			&m.SendAt,
			&m.AttemptCount,
			&lastErr,
			&sentAt,
			&remoteID,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}

		m.Status = model.Status(status)

		if lastErr.Valid {
			s := lastErr.String
			m.LastError = &s
		}
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		if remoteID.Valid {
			s := remoteID.String
			m.RemoteMessageID = &s
		}

		out = append(out, m)
	}
	return out, rows.Err()
}
