package oauthflow

import (
	"sync"
	"time"

	"cowork/internal/api"
	"cowork/pkg/logging"
)

// challengeSweepInterval is how often expired challenges are reaped.
const challengeSweepInterval = time.Minute

// Challenge is the in-memory half of one authorization attempt: everything
// that need not survive a process restart, most importantly the open
// callback listener and the resolved endpoints. The durable half lives in
// the credential store as the pending record.
type Challenge struct {
	ID         string
	ServerName string
	Scope      api.Scope

	State        string
	CodeVerifier string
	RedirectURI  string

	Issuer        string
	TokenEndpoint string
	ClientInfo    api.ClientInformation

	CreatedAt time.Time
	ExpiresAt time.Time

	Listener *CallbackListener
}

// Expired reports whether the challenge has passed its TTL.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ChallengeStore owns the live challenges for this process. A background
// sweep closes listeners whose TTL elapsed, so an abandoned authorization
// never leaks a socket.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]*Challenge
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewChallengeStore creates a store and starts its sweep goroutine.
func NewChallengeStore() *ChallengeStore {
	s := &ChallengeStore{
		entries: make(map[string]*Challenge),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Put registers a challenge under its ID.
func (s *ChallengeStore) Put(c *Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.ID] = c
}

// Get returns the challenge with the given ID, if present.
func (s *ChallengeStore) Get(id string) (*Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.entries[id]
	return c, ok
}

// Remove drops the challenge and closes its listener.
func (s *ChallengeStore) Remove(id string) {
	s.mu.Lock()
	c, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok && c.Listener != nil {
		c.Listener.Close()
	}
}

// Len returns the number of live challenges.
func (s *ChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ChallengeStore) sweepLoop() {
	ticker := time.NewTicker(challengeSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *ChallengeStore) sweep() {
	now := s.now()

	s.mu.Lock()
	var expired []*Challenge
	for id, c := range s.entries {
		if c.Expired(now) {
			expired = append(expired, c)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, c := range expired {
		if c.Listener != nil {
			c.Listener.Close()
		}
		logging.Debug("OAuthFlow", "Swept expired challenge %s for server %s", c.ID, c.ServerName)
	}
}

// Stop halts the sweep goroutine and closes every remaining listener.
func (s *ChallengeStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		entries := make([]*Challenge, 0, len(s.entries))
		for _, c := range s.entries {
			entries = append(entries, c)
		}
		s.entries = make(map[string]*Challenge)
		s.mu.Unlock()

		for _, c := range entries {
			if c.Listener != nil {
				c.Listener.Close()
			}
		}
	})
}
