package database

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Events fired after successful operations.
const (
	EventAll = "*"

	EventDatabaseCreate = "database_create"
	EventDatabaseDelete = "database_delete"

	EventCollectionCreate = "collection_create"
	EventCollectionUpdate = "collection_update"
	EventCollectionDelete = "collection_delete"
	EventCollectionList   = "collection_list"
	EventCollectionRead   = "collection_read"

	EventAttributeCreate = "attribute_create"
	EventAttributeUpdate = "attribute_update"
	EventAttributeDelete = "attribute_delete"

	EventIndexCreate = "index_create"
	EventIndexRename = "index_rename"
	EventIndexDelete = "index_delete"

	EventDocumentCreate   = "document_create"
	EventDocumentsCreate  = "documents_create"
	EventDocumentRead     = "document_read"
	EventDocumentFind     = "document_find"
	EventDocumentCount    = "document_count"
	EventDocumentSum      = "document_sum"
	EventDocumentUpdate   = "document_update"
	EventDocumentsUpdate  = "documents_update"
	EventDocumentDelete   = "document_delete"
	EventDocumentIncrease = "document_increase"
	EventDocumentDecrease = "document_decrease"
)

// Listener observes an event. payload is the affected value: a document,
// a collection, an attribute, an index or a name.
type Listener func(ctx context.Context, event string, payload any)

type registration struct {
	event string
	name  string
	fn    Listener
}

type listeners struct {
	mu   sync.RWMutex
	regs []registration
}

func newListeners() *listeners { return &listeners{} }

// On registers fn for event (or EventAll) under name. Re-registering a
// name replaces the listener; a nil fn removes it.
func (d *Database) On(event, name string, fn Listener) {
	l := d.listeners
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.IndexFunc(l.regs, func(r registration) bool { return r.event == event && r.name == name })
	switch {
	case fn == nil && i >= 0:
		l.regs = slices.Delete(l.regs, i, i+1)
	case fn == nil:
	case i >= 0:
		l.regs[i].fn = fn
	default:
		l.regs = append(l.regs, registration{event: event, name: name, fn: fn})
	}
}

func (d *Database) trigger(ctx context.Context, event string, payload any) {
	silenced, all := silencedListeners(ctx)
	if all {
		return
	}
	d.listeners.mu.RLock()
	regs := slices.Clone(d.listeners.regs)
	d.listeners.mu.RUnlock()

	for _, r := range regs {
		if r.event != event && r.event != EventAll {
			continue
		}
		if slices.Contains(silenced, r.name) {
			continue
		}
		d.call(ctx, r, event, payload)
	}
}

func (d *Database) call(ctx context.Context, r registration, event string, payload any) {
	defer func() {
		if p := recover(); p != nil {
			d.log(ctx).Error("Listener panicked",
				zap.String("listener", r.name), zap.String("event", event), zap.Any("panic", p))
		}
	}()
	r.fn(ctx, event, payload)
}
