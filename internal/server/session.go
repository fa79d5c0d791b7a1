package server

import (
	"log"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"chatgenius/internal/database"
	"chatgenius/internal/stats"
	"chatgenius/internal/types"
)

type SessionState int

const (
	// SessionAuthenticated means the connection presented a verified
	// identity but has not produced any activity yet.
	SessionAuthenticated SessionState = iota
	SessionActive
	SessionClosed
)

// Session is the in-memory record of one authenticated connection. It never
// outlives the process.
type Session struct {
	Id           string
	User         types.User
	CreatedAt    time.Time
	lastActivity time.Time
	state        SessionState
	client       *Client
}

// SessionRegistry tracks live connections and evicts the ones that have been
// idle longer than the configured threshold.
type SessionRegistry struct {
	log         *log.Logger
	stats       stats.Provider
	idleTimeout time.Duration
	mu          sync.Mutex
	sessions    map[string]*Session
	stop        chan struct{}
	done        chan struct{}
}

func NewSessionRegistry(logger *log.Logger, su stats.Provider, idleTimeout time.Duration) *SessionRegistry {
	su.RegisterMetric("ActiveSessions")

	return &SessionRegistry{
		log:         logger,
		stats:       su,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run starts the idle sweep. It exits when Stop is called.
func (sr *SessionRegistry) Run() {
	go func() {
		defer close(sr.done)

		ticker := time.NewTicker(sr.idleTimeout / 4)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				sr.sweep(now)
			case <-sr.stop:
				return
			}
		}
	}()
}

func (sr *SessionRegistry) Stop() {
	close(sr.stop)
	<-sr.done
}

// Add registers a connection that already presented a verified identity.
func (sr *SessionRegistry) Add(user types.User, c *Client) (*Session, error) {
	if user.Id == 0 {
		return nil, database.NewAuthenticationError("connection is not authenticated")
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &Session{
		Id:           id,
		User:         user,
		CreatedAt:    now,
		lastActivity: now,
		state:        SessionAuthenticated,
		client:       c,
	}

	sr.mu.Lock()
	sr.sessions[id] = sess
	sr.mu.Unlock()

	sr.stats.Incr("ActiveSessions")
	sr.log.Printf("session %q created for user %q", id, user.Email)

	return sess, nil
}

// Attach binds the client to its session once the websocket upgrade has
// succeeded. The client field is guarded by the registry mutex; the idle
// sweep and ClientsForUser read it concurrently.
func (sr *SessionRegistry) Attach(sess *Session, c *Client) {
	sr.mu.Lock()
	sess.client = c
	sr.mu.Unlock()
}

// Touch records activity on the connection.
func (sr *SessionRegistry) Touch(id string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sess, ok := sr.sessions[id]; ok {
		sess.lastActivity = time.Now().UTC()
		sess.state = SessionActive
	}
}

// Close removes the session. Closing an already closed session is a no-op,
// so an explicit close racing the idle sweep is safe.
func (sr *SessionRegistry) Close(id string) {
	sr.mu.Lock()
	sess, ok := sr.sessions[id]
	if ok {
		sess.state = SessionClosed
		delete(sr.sessions, id)
	}
	sr.mu.Unlock()

	if ok {
		sr.stats.Decr("ActiveSessions")
		sr.log.Printf("session %q closed", id)
	}
}

func (sr *SessionRegistry) IsActive(id string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sess, ok := sr.sessions[id]
	return ok && sess.state != SessionClosed
}

// ClientsForUser returns the clients of every live session bound to the user.
func (sr *SessionRegistry) ClientsForUser(userId int) []*Client {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	var clients []*Client
	for _, sess := range sr.sessions {
		if sess.User.Id == userId && sess.client != nil {
			clients = append(clients, sess.client)
		}
	}

	return clients
}

// sweep evicts sessions idle beyond the threshold. It stops the client's
// pumps; the client's own cleanup path then closes the session and leaves
// its rooms, same as a regular disconnect.
func (sr *SessionRegistry) sweep(now time.Time) {
	sr.mu.Lock()
	var stale []*Client
	var orphaned []string
	for _, sess := range sr.sessions {
		if now.Sub(sess.lastActivity) <= sr.idleTimeout {
			continue
		}

		sr.log.Printf("evicting idle session %q for user %q", sess.Id, sess.User.Email)
		if sess.client != nil {
			stale = append(stale, sess.client)
		} else {
			orphaned = append(orphaned, sess.Id)
		}
	}
	sr.mu.Unlock()

	for _, c := range stale {
		c.stopClient()
	}
	for _, id := range orphaned {
		sr.Close(id)
	}
}
