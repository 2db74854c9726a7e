package repositories

import (
	"bytes"
	"chat-presence/domain"
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 10

// UnreadRepository keeps unread counters in BadgerDB so they survive a restart.
// Each counter is one key "unread:{user}:{room}" holding a big-endian uint64.
type UnreadRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewUnreadRepository(db *badger.DB, log *slog.Logger) *UnreadRepository {
	return &UnreadRepository{db: db, log: log}
}

func unreadPrefix(userID domain.UserID) []byte {
	return []byte("unread:" + url.QueryEscape(string(userID)) + ":")
}

func unreadKey(userID domain.UserID, roomID domain.RoomID) []byte {
	return append(unreadPrefix(userID), url.QueryEscape(string(roomID))...)
}

// Increment adds one to the counter. Concurrent increments of the same key
// conflict in badger and are retried.
func (r *UnreadRepository) Increment(_ context.Context, userID domain.UserID, roomID domain.RoomID) (int, error) {
	key := unreadKey(userID, roomID)
	var count uint64
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = r.db.Update(func(txn *badger.Txn) error {
			current, err := readCount(txn, key)
			if err != nil {
				return err
			}
			count = current + 1
			return txn.Set(key, encodeCount(count))
		})
		if !stderrors.Is(err, badger.ErrConflict) {
			break
		}
		r.log.Debug("Unread increment conflict, retrying", "user_id", userID, "room", roomID, "attempt", i+1)
	}
	if err != nil {
		return 0, fmt.Errorf("unread increment: %w", err)
	}
	return int(count), nil
}

// MarkRead drops the counter, which reads back as zero.
func (r *UnreadRepository) MarkRead(_ context.Context, userID domain.UserID, roomID domain.RoomID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(unreadKey(userID, roomID))
	})
}

func (r *UnreadRepository) Get(_ context.Context, userID domain.UserID, roomID domain.RoomID) (int, error) {
	var count uint64
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readCount(txn, unreadKey(userID, roomID))
		return err
	})
	return int(count), err
}

func (r *UnreadRepository) TotalFor(ctx context.Context, userID domain.UserID) (int, error) {
	all, err := r.All(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range all {
		total += n
	}
	return total, nil
}

// All returns every non-zero counter of the user, keyed by room.
func (r *UnreadRepository) All(_ context.Context, userID domain.UserID) (map[domain.RoomID]int, error) {
	res := make(map[domain.RoomID]int)
	prefix := unreadPrefix(userID)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			room, err := url.QueryUnescape(string(bytes.TrimPrefix(item.Key(), prefix)))
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				res[domain.RoomID(room)] = int(decodeCount(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Clear removes every counter of the user. The key scan is part of the transaction,
// so an increment landing meanwhile conflicts and the whole clear is retried.
func (r *UnreadRepository) Clear(_ context.Context, userID domain.UserID) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = r.clear(userID)
		if !stderrors.Is(err, badger.ErrConflict) {
			break
		}
		r.log.Debug("Unread clear conflict, retrying", "user_id", userID, "attempt", i+1)
	}
	if err != nil {
		return fmt.Errorf("unread clear: %w", err)
	}
	return nil
}

func (r *UnreadRepository) clear(userID domain.UserID) error {
	prefix := unreadPrefix(userID)
	return r.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func readCount(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	err = item.Value(func(val []byte) error {
		count = decodeCount(val)
		return nil
	})
	return count, err
}

func encodeCount(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func decodeCount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
