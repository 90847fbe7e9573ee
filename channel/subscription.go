package channel

import (
	"encoding/json"

	"github.com/tcriess/lightspeed-conference/types"
)

type EventKind string

const (
	NewMessage   EventKind = types.EventNewMessage
	UserUpdated  EventKind = types.EventUserUpdated
	MessageLiked EventKind = types.EventMessageLiked
	UserJoined   EventKind = types.EventUserJoined
	UserLeft     EventKind = types.EventUserLeft
	ServerError  EventKind = types.EventError
	StateChanged EventKind = "stateChanged"
)

// Event is delivered to subscribers after an inbound event was applied to the local store. For StateChanged only
// State is set.
type Event struct {
	Kind  EventKind
	Data  json.RawMessage
	State State
}

type Handler func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	m    *Manager
	kind EventKind
}

// Subscribe registers h for events of kind. Handlers run on the read goroutine and must not block.
func (m *Manager) Subscribe(kind EventKind, h Handler) *Subscription {
	sub := &Subscription{m: m, kind: kind}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subs[kind] == nil {
		m.subs[kind] = make(map[*Subscription]Handler)
	}
	m.subs[kind][sub] = h
	return sub
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.m.subMu.Lock()
	defer s.m.subMu.Unlock()
	if handlers, ok := s.m.subs[s.kind]; ok {
		delete(handlers, s)
	}
}

func (m *Manager) publish(event Event) {
	m.subMu.RLock()
	handlers := make([]Handler, 0, len(m.subs[event.Kind]))
	for _, h := range m.subs[event.Kind] {
		handlers = append(handlers, h)
	}
	m.subMu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

func (m *Manager) publishState(state State) {
	m.publish(Event{Kind: StateChanged, State: state})
}
