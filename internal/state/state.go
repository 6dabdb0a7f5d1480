// Package state holds the shared session document every other component
// reads and mutates: death counters, timer flags, boss-fight mode, and
// connection status. It is the only structure touched from more than one
// goroutine, so it carries the synchronization burden alone.
package state

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownField is returned when a caller addresses a field outside the
// closed key set. This indicates a caller bug, not a runtime condition.
var ErrUnknownField = errors.New("unknown state field")

// ErrFieldType is returned when a value's type does not match the field.
var ErrFieldType = errors.New("wrong value type for state field")

// Key identifies one field of the session document.
type Key string

const (
	KeyDeaths             Key = "deaths"
	KeyElapsed            Key = "elapsed"
	KeyRunning            Key = "running"
	KeyBossMode           Key = "boss_mode"
	KeyBossDeaths         Key = "boss_deaths"
	KeyBossPaused         Key = "boss_paused"
	KeyConnected          Key = "connected"
	KeyCanEdit            Key = "can_edit"
	KeyDetectionEnabled   Key = "detection_enabled"
	KeyProfile            Key = "profile"
	KeyProfileDisplayName Key = "profile_display_name"
)

// keyOrder fixes the order in which a bulk merge applies and notifies,
// so observers see a deterministic sequence.
var keyOrder = []Key{
	KeyDeaths,
	KeyElapsed,
	KeyRunning,
	KeyBossMode,
	KeyBossDeaths,
	KeyBossPaused,
	KeyConnected,
	KeyCanEdit,
	KeyDetectionEnabled,
	KeyProfile,
	KeyProfileDisplayName,
}

// Session is one snapshot of the document. Counters are
// server-authoritative; the client never increments them on its own.
type Session struct {
	Deaths             int
	Elapsed            int64 // milliseconds
	Running            bool
	BossMode           bool
	BossDeaths         int
	BossPaused         bool
	Connected          bool
	CanEdit            bool
	DetectionEnabled   bool
	Profile            string
	ProfileDisplayName string
}

// Listener receives one notification per changed key.
type Listener func(key Key, value any)

// ErrorHook receives failures recovered from listeners.
type ErrorHook func(key Key, value any, recovered any)

type subscription struct {
	id int
	fn Listener
}

// Store is the concurrency-safe session document.
//
// writeMu serializes whole mutate+notify cycles so writes have a single
// global order and listeners observe notifications in that order. mu
// guards the document itself; it is released before listeners run, so a
// listener may call Get or Snapshot without deadlocking.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	session Session
	subs    []subscription
	nextID  int
	onError ErrorHook
}

// New returns a Store with all-default values. Detection starts enabled;
// everything else is zero until the server pushes an authoritative
// snapshot.
func New() *Store {
	return &Store{session: Session{DetectionEnabled: true}}
}

// SetErrorHook installs the hook invoked when a listener panics.
// Listener failures never propagate to the caller of Set or Merge.
func (s *Store) SetErrorHook(hook ErrorHook) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.onError = hook
}

// Snapshot returns a copy of the current document.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Get returns the current value of a single field.
func (s *Store) Get(key Key) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch key {
	case KeyDeaths:
		return s.session.Deaths, nil
	case KeyElapsed:
		return s.session.Elapsed, nil
	case KeyRunning:
		return s.session.Running, nil
	case KeyBossMode:
		return s.session.BossMode, nil
	case KeyBossDeaths:
		return s.session.BossDeaths, nil
	case KeyBossPaused:
		return s.session.BossPaused, nil
	case KeyConnected:
		return s.session.Connected, nil
	case KeyCanEdit:
		return s.session.CanEdit, nil
	case KeyDetectionEnabled:
		return s.session.DetectionEnabled, nil
	case KeyProfile:
		return s.session.Profile, nil
	case KeyProfileDisplayName:
		return s.session.ProfileDisplayName, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
}

// Set updates one field. Setting a value equal to the current one is a
// no-op and produces no notification.
func (s *Store) Set(key Key, value any) error {
	return s.Merge(map[Key]any{key: value})
}

// Merge applies a partial snapshot. Every key that actually changes
// triggers exactly one notification per subscriber, in subscription
// order, after the whole patch has been applied.
func (s *Store) Merge(patch map[Key]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	type change struct {
		key   Key
		value any
	}
	var changes []change

	// Reject keys outside the closed set before touching anything, so a
	// bad patch never half-applies.
	for key := range patch {
		if !knownKey(key) {
			return fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
	}

	s.mu.Lock()
	for _, key := range keyOrder {
		value, ok := patch[key]
		if !ok {
			continue
		}
		changed, err := s.apply(key, value)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if changed {
			changes = append(changes, change{key, value})
		}
	}
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	hook := s.onError
	s.mu.Unlock()

	for _, c := range changes {
		for _, sub := range subs {
			s.notify(sub.fn, c.key, c.value, hook)
		}
	}
	return nil
}

// notify isolates one listener call so a panicking subscriber cannot
// starve the rest or reach the caller of Set/Merge.
func (s *Store) notify(fn Listener, key Key, value any, hook ErrorHook) {
	defer func() {
		if r := recover(); r != nil && hook != nil {
			hook(key, value, r)
		}
	}()
	fn(key, value)
}

// Subscribe registers a listener and returns its id for Unsubscribe.
func (s *Store) Subscribe(fn Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs = append(s.subs, subscription{id: s.nextID, fn: fn})
	return s.nextID
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func knownKey(key Key) bool {
	for _, k := range keyOrder {
		if k == key {
			return true
		}
	}
	return false
}

// apply mutates one field, reporting whether the value changed.
// Caller holds mu.
func (s *Store) apply(key Key, value any) (bool, error) {
	switch key {
	case KeyDeaths:
		return setInt(&s.session.Deaths, key, value)
	case KeyElapsed:
		return setInt64(&s.session.Elapsed, key, value)
	case KeyRunning:
		return setBool(&s.session.Running, key, value)
	case KeyBossMode:
		return setBool(&s.session.BossMode, key, value)
	case KeyBossDeaths:
		return setInt(&s.session.BossDeaths, key, value)
	case KeyBossPaused:
		return setBool(&s.session.BossPaused, key, value)
	case KeyConnected:
		return setBool(&s.session.Connected, key, value)
	case KeyCanEdit:
		return setBool(&s.session.CanEdit, key, value)
	case KeyDetectionEnabled:
		return setBool(&s.session.DetectionEnabled, key, value)
	case KeyProfile:
		return setString(&s.session.Profile, key, value)
	case KeyProfileDisplayName:
		return setString(&s.session.ProfileDisplayName, key, value)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
}

func setInt(dst *int, key Key, value any) (bool, error) {
	v, ok := value.(int)
	if !ok {
		return false, fmt.Errorf("%w: %q wants int, got %T", ErrFieldType, key, value)
	}
	if *dst == v {
		return false, nil
	}
	*dst = v
	return true, nil
}

func setInt64(dst *int64, key Key, value any) (bool, error) {
	var v int64
	switch t := value.(type) {
	case int64:
		v = t
	case int:
		v = int64(t)
	default:
		return false, fmt.Errorf("%w: %q wants int64, got %T", ErrFieldType, key, value)
	}
	if *dst == v {
		return false, nil
	}
	*dst = v
	return true, nil
}

func setBool(dst *bool, key Key, value any) (bool, error) {
	v, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q wants bool, got %T", ErrFieldType, key, value)
	}
	if *dst == v {
		return false, nil
	}
	*dst = v
	return true, nil
}

func setString(dst *string, key Key, value any) (bool, error) {
	v, ok := value.(string)
	if !ok {
		return false, fmt.Errorf("%w: %q wants string, got %T", ErrFieldType, key, value)
	}
	if *dst == v {
		return false, nil
	}
	*dst = v
	return true, nil
}
