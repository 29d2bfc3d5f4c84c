package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Log is a hash-chained record of key lifecycle events (enable, unlock,
// rotate, share, disable). Each entry's hash covers the previous hash, so
// tampering with history breaks the chain.
type Entry struct {
	TS     int64  `json:"ts"`
	UserID string `json:"user_id"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
	Hash   string `json:"hash"`
}

type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
}

func New() *Log { return &Log{} }

func (l *Log) Append(userID, op, detail string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := sha256.New()
	h.Write(l.lastHash)
	h.Write([]byte(userID))
	h.Write([]byte(op))
	h.Write([]byte(detail))
	sum := h.Sum(nil)
	l.lastHash = sum
	e := Entry{
		TS:     time.Now().Unix(),
		UserID: userID,
		Op:     op,
		Detail: detail,
		Hash:   hex.EncodeToString(sum),
	}
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var prev []byte
	for _, e := range l.entries {
		h := sha256.New()
		h.Write(prev)
		h.Write([]byte(e.UserID))
		h.Write([]byte(e.Op))
		h.Write([]byte(e.Detail))
		sum := h.Sum(nil)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit chain broken at op %s for %s", e.Op, e.UserID)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
