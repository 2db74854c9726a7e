package repositories

import (
	"chat-presence/domain"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type diskMessage struct {
	ID         string `json:"id"`
	Room       string `json:"room"`
	Author     string `json:"author"`
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
	At         int64  `json:"at"`
}

func messagePrefix(room domain.RoomID) string {
	return fmt.Sprintf("msg:%s:", url.QueryEscape(string(room)))
}

// CreateMessage persists a message in BadgerDB and returns it with its id and time.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (r *ChatRepository) CreateMessage(_ context.Context, msg domain.NewMessage) (domain.Message, error) {
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	message := domain.Message{
		ID:         uuid.New(),
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		CreatedAt:  at.UTC(),
	}
	key := fmt.Sprintf("%s%019d:%s", messagePrefix(message.RoomID), message.CreatedAt.UnixNano(), message.ID)
	bytes, err := json.Marshal(fromMessage(message))
	if err != nil {
		return domain.Message{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// GetMessages walks a room backwards from the cursor (or from the newest message)
// and returns at most one page, oldest first. The returned cursor points at the oldest
// message of the page and is nil once history is exhausted.
func (r *ChatRepository) GetMessages(_ context.Context, room domain.RoomID, cursor *string, limit int) ([]domain.Message, *string, error) {
	if limit <= 0 || (r.limitMessages > 0 && limit > r.limitMessages) {
		limit = r.limitMessages
	}
	var byteMessages [][]byte
	var lastKey string
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := messagePrefix(room)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past the newest possible key of the room, then walk back.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[prefixLen:]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(byteMessages) == limit {
				r.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				return nil
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				byteMessages = append(byteMessages, value)
				return nil
			})
			if err != nil {
				return err
			}
		}
		lastKey = ""
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(byteMessages))
	for _, b := range byteMessages {
		var dm diskMessage
		if err = json.Unmarshal(b, &dm); err != nil {
			return nil, nil, err
		}
		message, err := toMessage(dm)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	var next *string
	if lastKey != "" {
		next = lo.ToPtr(lastKey)
	}
	slices.Reverse(messages)
	return messages, next, nil
}

func fromMessage(message domain.Message) diskMessage {
	return diskMessage{
		ID:         message.ID.String(),
		Room:       string(message.RoomID),
		Author:     string(message.SenderID),
		AuthorName: message.SenderName,
		Content:    message.Content,
		At:         message.CreatedAt.UnixNano(),
	}
}

func toMessage(dm diskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(dm.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:         parsedID,
		RoomID:     domain.RoomID(dm.Room),
		SenderID:   domain.UserID(dm.Author),
		SenderName: dm.AuthorName,
		Content:    dm.Content,
		CreatedAt:  time.Unix(0, dm.At).UTC(),
	}, nil
}
