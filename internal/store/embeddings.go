package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PutEmbedding stores a vector for a message, overwriting any previous one
// for the same key. The model tag records which embedding model produced it.
func (s *SQLiteStore) PutEmbedding(ctx context.Context, conversationID string, messageID int64, vector []float32, modelTag string) error {
	if len(vector) == 0 {
		return storageErr("storing embedding", fmt.Errorf("empty vector"))
	}

	blob := float32ToBytes(vector)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (conversation_id, message_id, vector, dimensions, model_tag)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id, message_id) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			model_tag = excluded.model_tag,
			created_at = CURRENT_TIMESTAMP`,
		conversationID, messageID, blob, len(vector), modelTag,
	)
	if err != nil {
		return storageErr(fmt.Sprintf("storing embedding %s/%d", conversationID, messageID), err)
	}
	return nil
}

// GetEmbedding retrieves the vector for a message.
// Returns (nil, nil) when no embedding exists; absence is not an error.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, conversationID string, messageID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT vector FROM embeddings WHERE conversation_id = ? AND message_id = ?",
		conversationID, messageID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(fmt.Sprintf("getting embedding %s/%d", conversationID, messageID), err)
	}
	return bytesToFloat32(blob), nil
}

// EmbeddingCandidates returns (message, vector) pairs within the age window,
// newest first, hard-capped for scan cost control. The join is tolerant:
// messages without vectors are simply absent, and vectors whose message was
// purged do not appear.
func (s *SQLiteStore) EmbeddingCandidates(ctx context.Context, conversationID string, maxAgeDays, cap int) ([]*Candidate, error) {
	if cap <= 0 || cap > s.candidateCap {
		cap = s.candidateCap
	}
	cutoff := ageCutoff(maxAgeDays)

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.conversation_id, m.message_id, m.sender_id, m.sender_name, m.username,
		        m.message_date, m.text, m.is_reply, m.reply_to_sender_id, e.vector
		 FROM embeddings e
		 JOIN messages m ON m.conversation_id = e.conversation_id AND m.message_id = e.message_id
		 WHERE m.conversation_id = ? AND m.message_date >= ?
		 ORDER BY m.message_date DESC, m.message_id DESC
		 LIMIT ?`,
		conversationID, cutoff, cap,
	)
	if err != nil {
		return nil, storageErr("listing embedding candidates", err)
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c := &Candidate{}
		var isReply int
		var blob []byte
		if err := rows.Scan(&c.Message.ConversationID, &c.Message.MessageID,
			&c.Message.SenderID, &c.Message.SenderName, &c.Message.Username,
			&c.Message.Timestamp, &c.Message.Text, &isReply,
			&c.Message.ReplyToSenderID, &blob); err != nil {
			return nil, storageErr("scanning embedding candidate", err)
		}
		c.Message.IsReply = isReply != 0
		c.Message.Timestamp = c.Message.Timestamp.UTC()
		c.Vector = bytesToFloat32(blob)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("reading embedding candidates", err)
	}
	return candidates, nil
}

// float32ToBytes converts a float32 slice to a byte slice (little-endian).
func float32ToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloat32 converts a byte slice back to float32 slice (little-endian).
func bytesToFloat32(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
