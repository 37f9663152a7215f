package adapter

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// EventAll matches every event.
const EventAll = "*"

// Transform rewrites an outgoing statement.
type Transform func(statement string) string

type hook struct {
	event string
	name  string
	seq   uint64
	fn    Transform
}

// Hooks is a registry of named statement transforms keyed by event.
// Transforms run in registration order; re-registering a name keeps its
// original position. Safe for concurrent use.
type Hooks struct {
	mu    sync.RWMutex
	seq   uint64
	hooks []hook
}

// NewHooks creates an empty registry.
func NewHooks() *Hooks { return &Hooks{} }

// Before registers fn under (event, name). A nil fn removes the hook.
func (h *Hooks) Before(event, name string, fn Transform) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := slices.IndexFunc(h.hooks, func(k hook) bool { return k.event == event && k.name == name })
	if fn == nil {
		if i >= 0 {
			h.hooks = slices.Delete(h.hooks, i, i+1)
		}
		return
	}
	if i >= 0 {
		h.hooks[i].fn = fn
		return
	}
	h.seq++
	h.hooks = append(h.hooks, hook{event: event, name: name, seq: h.seq, fn: fn})
}

// Trigger folds the transforms registered for event and for EventAll.
func (h *Hooks) Trigger(event, statement string) string {
	h.mu.RLock()
	fns := make([]Transform, 0, len(h.hooks))
	for _, k := range h.hooks {
		if k.event == event || k.event == EventAll {
			fns = append(fns, k.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		statement = fn(statement)
	}
	return statement
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks)
}

const metadataHook = "metadata"

// Metadata holds key/value pairs rendered as a statement comment prefix.
type Metadata struct {
	mu    sync.RWMutex
	pairs [][2]string
}

// SetMetadata records key=value and installs a hook on EventAll that
// prefixes every statement with /* key: value */ comments.
func SetMetadata(h *Hooks, m *Metadata, key, value string) {
	m.mu.Lock()
	i := slices.IndexFunc(m.pairs, func(p [2]string) bool { return p[0] == key })
	if i >= 0 {
		m.pairs[i][1] = value
	} else {
		m.pairs = append(m.pairs, [2]string{key, value})
	}
	m.mu.Unlock()

	h.Before(EventAll, metadataHook, func(statement string) string {
		return m.comment() + statement
	})
}

// ResetMetadata clears the metadata and removes its hook.
func ResetMetadata(h *Hooks, m *Metadata) {
	m.mu.Lock()
	m.pairs = nil
	m.mu.Unlock()
	h.Before(EventAll, metadataHook, nil)
}

// Get returns the metadata pairs as a map.
func (m *Metadata) Get() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.pairs))
	for _, p := range m.pairs {
		out[p[0]] = p[1]
	}
	return out
}

func (m *Metadata) comment() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	for _, p := range m.pairs {
		fmt.Fprintf(&b, "/* %s: %s */\n", sanitizeComment(p[0]), sanitizeComment(p[1]))
	}
	return b.String()
}

func sanitizeComment(s string) string {
	return strings.NewReplacer("/*", "", "*/", "").Replace(s)
}
