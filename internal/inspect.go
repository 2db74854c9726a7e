package internal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
)

const (
	PrefixChat    = "chat:"
	PrefixMessage = "msg:"
	PrefixUnread  = "unread:"
)

// InspectRow is a human readable view of one badger entry.
type InspectRow struct {
	Key    string `json:"key"`
	Type   string `json:"type"`
	Owner  string `json:"owner"`
	Target string `json:"target"`
	At     string `json:"at"`
	Detail string `json:"detail"`
}

type RowMapper func(key string, val []byte) InspectRow

// Scan walks every key under prefix and maps it to a row.
// A limit of zero means no limit.
func Scan(db *badger.DB, prefix string, limit int, mapper RowMapper) ([]InspectRow, error) {
	if mapper == nil {
		mapper = DefaultMapper
	}
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if limit > 0 && len(rows) >= limit {
				return nil
			}
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				rows = append(rows, mapper(key, val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// DefaultMapper recognises the chat, message and unread layouts and
// falls back to a raw row for anything else.
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:    key,
		Type:   "RAW",
		At:     "--:--:--",
		Detail: "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	switch {
	case strings.HasPrefix(key, PrefixUnread) && len(parts) == 3:
		row.Type = "UNREAD"
		row.Owner = unescape(parts[1])
		row.Target = unescape(parts[2])
		if len(val) == 8 {
			row.Detail = strconv.FormatUint(binary.BigEndian.Uint64(val), 10)
		}
	case strings.HasPrefix(key, PrefixMessage) && len(parts) == 4:
		row.Type = "MESSAGE"
		row.Target = unescape(parts[1])
		if ns, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.At = time.Unix(0, ns).UTC().Format("15:04:05")
		}
		var m struct {
			Author  string `json:"author"`
			Content string `json:"content"`
		}
		if json.Unmarshal(val, &m) == nil {
			row.Owner = m.Author
			row.Detail = m.Content
		}
	case strings.HasPrefix(key, PrefixChat) && len(parts) == 2:
		row.Type = "CHAT"
		row.Target = unescape(parts[1])
		var c struct {
			Name    string   `json:"name"`
			Members []string `json:"members"`
		}
		if json.Unmarshal(val, &c) == nil {
			row.Owner = c.Name
			row.Detail = fmt.Sprintf("%d members: %s", len(c.Members), strings.Join(c.Members, ","))
		}
	}
	return row
}

// InspectHandler serves the rows of ?prefix= as JSON. Meant for local debugging only.
func InspectHandler(db *badger.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		prefix := c.DefaultQuery("prefix", PrefixUnread)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
		rows, err := Scan(db, prefix, limit, DefaultMapper)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"prefix": prefix, "items": rows})
	}
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}
