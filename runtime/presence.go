package runtime

import (
	"log/slog"
	"sync"
	"time"

	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
)

// Presence derives online/offline transitions from per-user session counts.
// A counter, not a boolean: with two devices connected, losing one must not
// broadcast a spurious offline.
type Presence struct {
	mu     sync.Mutex
	counts map[string]int
	users  contract.IUserStore
	events chan<- event.Event
	log    *slog.Logger
}

func NewPresence(users contract.IUserStore, events chan<- event.Event, log *slog.Logger) *Presence {
	return &Presence{
		counts: make(map[string]int),
		users:  users,
		events: events,
		log:    log,
	}
}

// Connected records one more session for the user. On the 0 to 1 transition
// the user is persisted online and a user:online event is emitted to every
// other connected session. Persistence failures are logged, never surfaced:
// presence broadcasts are best effort.
func (p *Presence) Connected(userID string, origin domain.SessionID) {
	p.mu.Lock()
	p.counts[userID]++
	first := p.counts[userID] == 1
	p.mu.Unlock()

	if !first {
		return
	}
	if err := p.users.SetOnline(userID); err != nil {
		p.log.Warn("failed to persist online status", "user_id", userID, "error", err)
	}
	p.emit(event.UserOnline{UserID: userID, Origin: origin})
}

// Disconnected records one less session. On the 1 to 0 transition the user
// is persisted offline with last-seen stamped now, and user:offline is
// emitted to the remaining sessions.
func (p *Presence) Disconnected(userID string, origin domain.SessionID) {
	p.mu.Lock()
	p.counts[userID]--
	last := p.counts[userID] <= 0
	if last {
		delete(p.counts, userID)
	}
	p.mu.Unlock()

	if !last {
		return
	}
	lastSeen := time.Now().UTC()
	if err := p.users.SetOffline(userID, lastSeen); err != nil {
		p.log.Warn("failed to persist offline status", "user_id", userID, "error", err)
	}
	p.emit(event.UserOffline{UserID: userID, LastSeen: lastSeen, Origin: origin})
}

func (p *Presence) emit(e event.Event) {
	select {
	case p.events <- e:
	default:
		p.log.Warn("event channel full, presence event lost", "kind", e.Kind())
	}
}
