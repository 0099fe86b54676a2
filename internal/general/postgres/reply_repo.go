package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"transit-sync/internal/ports"
)

// ReplyRepo archives chat messages and replies.
type ReplyRepo struct{}

func NewReplyRepo() ports.ReplyRepository {
	return &ReplyRepo{}
}

// Insert stores rec and returns its id. Must run inside UnitOfWork.WithinTx.
func (repo *ReplyRepo) Insert(ctx context.Context, rec *ports.ReplyRecord) (int64, error) {
	tx, err := txFrom(ctx)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, errors.New("reply record is nil")
	}
	if strings.TrimSpace(rec.SenderID) == "" || strings.TrimSpace(rec.Message) == "" {
		return 0, errors.New("reply record needs sender_id and message")
	}

	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("encode reply metadata: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO replies (correlation_id, event, sender_id, recipient_id, in_reply_to, message, metadata, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7::jsonb, $8)
		RETURNING id
	`,
		rec.CorrelationID,
		rec.Event,
		rec.SenderID,
		rec.RecipientID,
		rec.InReplyTo,
		rec.Message,
		string(metaJSON),
		rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reply: %w", err)
	}
	return id, nil
}

// CountSince returns how many replies were archived at or after since.
func (repo *ReplyRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	tx, err := txFrom(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM replies WHERE created_at >= $1`, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return count, nil
}
