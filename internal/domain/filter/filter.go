package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kailas-cloud/docbase/internal/domain/datetime"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// Func transforms a single attribute value. doc is the document being
// written or read.
type Func func(value any, doc document.Document) (any, error)

// Filter is a named, reversible value transform.
type Filter struct {
	Encode Func
	Decode Func
}

// Registry holds named filters. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]Filter
}

// NewRegistry creates a registry with the json and datetime filters.
func NewRegistry() *Registry {
	r := &Registry{filters: make(map[string]Filter)}
	r.Add(schema.FilterJSON, JSON())
	r.Add(schema.FilterDatetime, Datetime())
	return r
}

// Add registers or replaces a filter.
func (r *Registry) Add(name string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = f
}

// Get returns the named filter.
func (r *Registry) Get(name string) (Filter, bool) {
	if r == nil {
		return Filter{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	return f, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Chain resolves filter names against an ordered list of registries;
// the first registry holding a name wins.
type Chain []*Registry

// Lookup returns the first filter registered under name.
func (c Chain) Lookup(name string) (Filter, error) {
	for _, r := range c {
		if f, ok := r.Get(name); ok {
			return f, nil
		}
	}
	return Filter{}, fmt.Errorf("filter %q not found", name)
}

// Has reports whether any registry in the chain holds name.
func (c Chain) Has(name string) bool {
	_, err := c.Lookup(name)
	return err == nil
}

// JSON serializes structured values to a JSON string and back.
func JSON() Filter {
	return Filter{
		Encode: func(v any, _ document.Document) (any, error) {
			switch v.(type) {
			case nil, string:
				return v, nil
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("json encode: %w", err)
			}
			return string(raw), nil
		},
		Decode: func(v any, _ document.Document) (any, error) {
			var raw []byte
			switch t := v.(type) {
			case string:
				raw = []byte(t)
			case []byte:
				raw = t
			default:
				return v, nil
			}
			if len(raw) == 0 {
				return nil, nil
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var out any
			if err := dec.Decode(&out); err != nil {
				return v, nil
			}
			return fromJSON(out), nil
		},
	}
}

// Datetime stores datetimes in UTC storage layout and reads them back in
// the API layout.
func Datetime() Filter {
	return Filter{
		Encode: func(v any, _ document.Document) (any, error) {
			if v == nil {
				return nil, nil
			}
			return datetime.ToStorage(v)
		},
		Decode: func(v any, _ document.Document) (any, error) {
			if v == nil {
				return nil, nil
			}
			return datetime.ToAPI(v)
		},
	}
}

func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromJSON(t[i])
		}
		return t
	case map[string]any:
		d := make(document.Document, len(t))
		for k, item := range t {
			d[k] = fromJSON(item)
		}
		return d
	}
	return v
}
