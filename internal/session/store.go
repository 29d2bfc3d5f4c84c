package session

import (
	"crypto/ecdh"
	"sync"

	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
)

// Session is a user's unlocked state: the key derived from their password
// and their decrypted sharing private key. Process memory only; never
// persisted. A fresh process start requires re-deriving from a re-entered
// password.
type Session struct {
	UserID     string
	DerivedKey [cr.KeySize]byte
	PrivateKey *ecdh.PrivateKey
}

// Store holds sessions keyed by user id. It is an explicit object built at
// application start and passed to every component that needs it; there is no
// package-level instance.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}}
}

func (s *Store) Set(userID string, derivedKey [cr.KeySize]byte, priv *ecdh.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.sessions[userID]; old != nil {
		old.wipe()
	}
	sess := &Session{UserID: userID, DerivedKey: derivedKey, PrivateKey: priv}
	// best effort: keep the derived key out of swap
	_ = cr.LockMemory(sess.DerivedKey[:])
	s.sessions[userID] = sess
}

// Get returns the live session or nil. Callers must not retain the derived
// key beyond the operation at hand.
func (s *Store) Get(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

func (s *Store) Has(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID] != nil
}

func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.sessions[userID]; sess != nil {
		sess.wipe()
		delete(s.sessions, userID)
	}
}

// ClearAll wipes every session; called on lock-all and process shutdown.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.wipe()
		delete(s.sessions, id)
	}
}

func (sess *Session) wipe() {
	_ = cr.UnlockMemory(sess.DerivedKey[:])
	cr.Zero32(&sess.DerivedKey)
	sess.PrivateKey = nil
}
