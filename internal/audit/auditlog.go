// Package audit keeps a hash-chained, in-memory trail of mutating
// operations and who performed them.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
)

const DefaultCapacity = 10_000

var ErrChainBroken = errors.New("audit chain broken")

type Entry struct {
	TS     int64  `json:"ts"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Target string `json:"target"`
	Hash   string `json:"hash"`
}

// Log is safe for concurrent use. Once full, the oldest entries are
// dropped and the chain is anchored at the hash of the last dropped entry.
type Log struct {
	mu       sync.Mutex
	capacity int
	anchor   []byte
	lastHash []byte
	entries  []Entry
	now      func() time.Time
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, now: time.Now}
}

// Record appends an entry attributed to the request identity, or to
// "anonymous".
func (l *Log) Record(ctx context.Context, action, target string) {
	actor := "anonymous"
	if id, ok := auth.FromContext(ctx); ok {
		actor = id.Subject
	}
	l.Append(actor, action, target)
}

func (l *Log) Append(actor, action, target string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := chain(l.lastHash, actor, action, target)
	l.lastHash = sum
	e := Entry{TS: l.now().Unix(), Actor: actor, Action: action, Target: target, Hash: hex.EncodeToString(sum)}
	l.entries = append(l.entries, e)
	if len(l.entries) > l.capacity {
		drop := len(l.entries) - l.capacity
		l.anchor, _ = hex.DecodeString(l.entries[drop-1].Hash)
		l.entries = append([]Entry(nil), l.entries[drop:]...)
	}
	return e
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.anchor
	for _, e := range l.entries {
		sum := chain(prev, e.Actor, e.Action, e.Target)
		if hex.EncodeToString(sum) != e.Hash {
			return ErrChainBroken
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

func chain(prev []byte, actor, action, target string) []byte {
	h := sha256.New()
	h.Write(prev)
	for _, s := range []string{actor, action, target} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}
