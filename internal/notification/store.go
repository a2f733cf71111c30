package notification

import (
	"slices"
	"sync"
	"time"
)

// DefaultMaxNotifications bounds the Store when no size is configured.
const DefaultMaxNotifications = 1000

// Store is the in-memory cache of persistent notifications. It is safe for
// concurrent use; the unread count is always derived from the entries.
type Store struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
	maxSize       int
}

// Snapshot is a consistent copy of the Store contents.
type Snapshot struct {
	// Notifications are ordered newest first.
	Notifications []*Notification
	UnreadCount   int
}

// NewStore creates a Store holding at most maxSize notifications; when full,
// the oldest entry by CreatedAt is dropped. Non-positive sizes use
// DefaultMaxNotifications.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxNotifications
	}
	return &Store{
		notifications: make(map[string]*Notification),
		maxSize:       maxSize,
	}
}

// Load replaces the full set. Later duplicates of an id win.
func (s *Store) Load(initial []*Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = make(map[string]*Notification, len(initial))
	for _, n := range initial {
		if n == nil || n.ID == "" {
			continue
		}
		s.notifications[n.ID] = n.Clone()
	}
	for len(s.notifications) > s.maxSize {
		s.removeOldestLocked()
	}
}

// Upsert inserts n or replaces the entry with the same id. An existing read
// entry stays read unless explicitUnread is set, so a late or stale payload
// cannot un-read a notification. It reports whether n was newly inserted and
// survived the MaxSize trim.
func (s *Store) Upsert(n *Notification, explicitUnread bool) (inserted bool) {
	if n == nil || n.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := n.Clone()
	existing, exists := s.notifications[n.ID]
	if exists && existing.Read && !explicitUnread {
		next.Read = true
	}

	s.notifications[n.ID] = next
	if len(s.notifications) > s.maxSize {
		// Trim after inserting so an arrival older than every stored entry
		// is the one dropped.
		s.removeOldestLocked()
	}
	_, kept := s.notifications[n.ID]
	return !exists && kept
}

// MarkRead sets read=true. It reports whether the entry changed; marking an
// unknown or already read id is a no-op.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Read {
		return false
	}
	n.Read = true
	return true
}

// MarkAllRead marks every entry read and returns how many changed.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, n := range s.notifications {
		if !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed
}

// Remove deletes the entry with id and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[id]; !ok {
		return false
	}
	delete(s.notifications, id)
	return true
}

// RemoveAll empties the Store and returns how many entries were removed.
func (s *Store) RemoveAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.notifications)
	clear(s.notifications)
	return n
}

// UnreadCount counts entries with read=false.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadLocked()
}

func (s *Store) unreadLocked() int {
	count := 0
	for _, n := range s.notifications {
		if !n.Read {
			count++
		}
	}
	return count
}

// Len returns the number of stored notifications.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications)
}

// Has reports whether id is stored.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.notifications[id]
	return ok
}

// Get returns a copy of the entry with id.
func (s *Store) Get(id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n, ok := s.notifications[id]; ok {
		return n.Clone(), nil
	}
	return nil, ErrNotificationNotFound
}

// Latest returns the newest CreatedAt in the Store, or the zero time.
func (s *Store) Latest() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for _, n := range s.notifications {
		if n.CreatedAt.After(latest) {
			latest = n.CreatedAt
		}
	}
	return latest
}

// List returns copies of matching notifications, newest first.
func (s *Store) List(filter *FilterOptions) []*Notification {
	s.mu.RLock()
	results := make([]*Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if matchesFilter(n, filter) {
			results = append(results, n.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(results)

	if filter != nil {
		if filter.Offset >= len(results) {
			return []*Notification{}
		}
		results = results[filter.Offset:]
		if filter.Limit > 0 && len(results) > filter.Limit {
			results = results[:filter.Limit]
		}
	}
	return results
}

// Snapshot returns all notifications and the unread count read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	list := make([]*Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		list = append(list, n.Clone())
	}
	unread := s.unreadLocked()
	s.mu.RUnlock()

	sortNewestFirst(list)
	return Snapshot{Notifications: list, UnreadCount: unread}
}

// removeOldestLocked drops the entry with the oldest CreatedAt
func (s *Store) removeOldestLocked() {
	var oldest *Notification
	for _, n := range s.notifications {
		if oldest == nil || n.CreatedAt.Before(oldest.CreatedAt) {
			oldest = n
		}
	}
	if oldest != nil {
		delete(s.notifications, oldest.ID)
	}
}

func matchesFilter(n *Notification, filter *FilterOptions) bool {
	if filter == nil {
		return true
	}
	if len(filter.Categories) > 0 && !slices.Contains(filter.Categories, n.Category) {
		return false
	}
	if filter.MinPriority != "" && !n.Priority.AtLeast(filter.MinPriority) {
		return false
	}
	if filter.UnreadOnly && n.Read {
		return false
	}
	if filter.Since != nil && n.CreatedAt.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && n.CreatedAt.After(*filter.Until) {
		return false
	}
	return true
}

// sortNewestFirst orders by CreatedAt descending, ties by id for stable output
func sortNewestFirst(list []*Notification) {
	slices.SortFunc(list, func(a, b *Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
}
