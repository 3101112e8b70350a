package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/groupmind/groupmind/internal/store"
)

// exportMessage is one entry in a JSON export file.
type exportMessage struct {
	ConversationID  string `json:"conversation_id"`
	MessageID       int64  `json:"message_id"`
	SenderID        string `json:"sender_id"`
	SenderName      string `json:"sender_name"`
	Username        string `json:"username"`
	Date            string `json:"date"` // RFC 3339
	Text            string `json:"text"`
	IsReply         bool   `json:"is_reply"`
	ReplyToSenderID string `json:"reply_to_sender_id"`
}

// LoadExport reads a JSON array of messages for batch indexing. The
// defaultConversation fills entries that omit conversation_id, so single-chat
// exports don't need to repeat it.
func LoadExport(path, defaultConversation string) ([]*store.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export file: %w", err)
	}

	var entries []exportMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing export file: %w", err)
	}

	msgs := make([]*store.Message, 0, len(entries))
	for idx, e := range entries {
		conv := e.ConversationID
		if conv == "" {
			conv = defaultConversation
		}
		if conv == "" {
			return nil, fmt.Errorf("entry %d has no conversation_id and no default was given", idx)
		}

		ts, err := time.Parse(time.RFC3339, e.Date)
		if err != nil {
			return nil, fmt.Errorf("entry %d has invalid date %q: %w", idx, e.Date, err)
		}

		msgs = append(msgs, &store.Message{
			ConversationID:  conv,
			MessageID:       e.MessageID,
			SenderID:        e.SenderID,
			SenderName:      e.SenderName,
			Username:        e.Username,
			Timestamp:       ts.UTC(),
			Text:            e.Text,
			IsReply:         e.IsReply,
			ReplyToSenderID: e.ReplyToSenderID,
		})
	}
	return msgs, nil
}
