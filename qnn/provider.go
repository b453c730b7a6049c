package qnn

import (
	"sync"

	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// SessionProvider hands out backend sessions to models. Every Acquire is paired with one
// Release of the returned session.
type SessionProvider interface {
	Acquire(delegate model.Delegate) (*Session, error)
	Release(s *Session) error
}

// SharedSessions keeps one reference counted session per delegate. Concurrent first
// acquisitions of a delegate open a single session.
type SharedSessions struct {
	loader api.Loader
	opts   SessionOptions

	group singleflight.Group

	mu       sync.Mutex
	sessions map[model.Delegate]*sharedSession
}

type sharedSession struct {
	session *Session
	refs    int
}

var _ SessionProvider = (*SharedSessions)(nil)

// NewSharedSessions returns a provider that shares sessions between models.
func NewSharedSessions(loader api.Loader, opts SessionOptions) *SharedSessions {
	return &SharedSessions{
		loader:   loader,
		opts:     opts,
		sessions: make(map[model.Delegate]*sharedSession),
	}
}

// Acquire returns the session for delegate, opening it on first use.
func (p *SharedSessions) Acquire(delegate model.Delegate) (*Session, error) {
	for {
		p.mu.Lock()
		if e, ok := p.sessions[delegate]; ok {
			e.refs++
			p.mu.Unlock()
			return e.session, nil
		}
		p.mu.Unlock()

		_, err, _ := p.group.Do(delegate.String(), func() (interface{}, error) {
			p.mu.Lock()
			_, ok := p.sessions[delegate]
			p.mu.Unlock()
			if ok {
				return nil, nil
			}

			s, err := OpenSession(p.loader, delegate, p.opts)
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			p.sessions[delegate] = &sharedSession{session: s}
			p.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}
}

// Release drops one reference and closes the session with the last one.
func (p *SharedSessions) Release(s *Session) error {
	if s == nil {
		return nil
	}

	p.mu.Lock()
	e, ok := p.sessions[s.Delegate()]
	if !ok || e.session != s {
		p.mu.Unlock()
		return errors.Errorf("release of unknown %s session", s.Delegate())
	}
	e.refs--
	last := e.refs <= 0
	if last {
		delete(p.sessions, s.Delegate())
	}
	p.mu.Unlock()

	if last {
		return s.Close()
	}
	return nil
}

// Refs returns the number of outstanding acquisitions of delegate's session.
func (p *SharedSessions) Refs(delegate model.Delegate) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.sessions[delegate]; ok {
		return e.refs
	}
	return 0
}

// PerModelSessions opens a fresh session for every acquisition.
type PerModelSessions struct {
	loader api.Loader
	opts   SessionOptions
}

var _ SessionProvider = (*PerModelSessions)(nil)

// NewPerModelSessions returns a provider that never shares sessions.
func NewPerModelSessions(loader api.Loader, opts SessionOptions) *PerModelSessions {
	return &PerModelSessions{loader: loader, opts: opts}
}

// Acquire opens a new session.
func (p *PerModelSessions) Acquire(delegate model.Delegate) (*Session, error) {
	return OpenSession(p.loader, delegate, p.opts)
}

// Release closes s.
func (p *PerModelSessions) Release(s *Session) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
