package document

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/docbase/internal/domain/permission"
)

// Reserved attribute keys.
const (
	KeyID          = "$id"
	KeyInternalID  = "$internalId"
	KeyCollection  = "$collection"
	KeyTenant      = "$tenant"
	KeyCreatedAt   = "$createdAt"
	KeyUpdatedAt   = "$updatedAt"
	KeyPermissions = "$permissions"
)

// UniquePlaceholder is replaced by a generated id on create.
const UniquePlaceholder = "unique()"

// Document is a dynamic record keyed by attribute name.
// Keys starting with '$' are reserved. A nil or empty Document means "not found".
type Document map[string]any

// New creates a Document from attrs, normalizing numeric and slice values.
func New(attrs map[string]any) Document {
	d := make(Document, len(attrs))
	for k, v := range attrs {
		d[k] = Normalize(v)
	}
	return d
}

// UniqueID returns a new time-ordered identifier.
func UniqueID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// IsEmpty reports whether the document has no attributes.
func (d Document) IsEmpty() bool { return len(d) == 0 }

// ID returns the public identifier.
func (d Document) ID() string { return d.GetString(KeyID) }

// InternalID returns the storage-assigned identifier.
func (d Document) InternalID() string {
	switch v := d[KeyInternalID].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// Collection returns the owning collection id.
func (d Document) Collection() string { return d.GetString(KeyCollection) }

// CreatedAt returns the creation timestamp as stored.
func (d Document) CreatedAt() string { return d.GetString(KeyCreatedAt) }

// UpdatedAt returns the last update timestamp as stored.
func (d Document) UpdatedAt() string { return d.GetString(KeyUpdatedAt) }

// Tenant returns the owning tenant, if any.
func (d Document) Tenant() (int64, bool) {
	v, ok := toInt64(d[KeyTenant])
	return v, ok
}

// Permissions returns the permission strings.
func (d Document) Permissions() []string { return d.Strings(KeyPermissions) }

// PermissionsFor returns the roles granted the given action, expanding write.
func (d Document) PermissionsFor(action permission.Action) []string {
	return permission.RolesFor(d.Permissions(), action)
}

// Get returns the raw value for key.
func (d Document) Get(key string) any { return d[key] }

// Has reports whether key is present (even if nil).
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// GetString returns the value as a string or "".
func (d Document) GetString(key string) string {
	s, _ := d[key].(string)
	return s
}

// GetBool returns the value as a bool or false.
func (d Document) GetBool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// GetInt returns the value as an int64.
func (d Document) GetInt(key string) (int64, bool) { return toInt64(d[key]) }

// Strings returns a list attribute as []string, skipping non-string items.
func (d Document) Strings(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Set stores a normalized value and returns d.
func (d Document) Set(key string, value any) Document {
	d[key] = Normalize(value)
	return d
}

// Append appends value to the list stored at key.
func (d Document) Append(key string, value any) Document {
	list, _ := d[key].([]any)
	d[key] = append(slices.Clone(list), Normalize(value))
	return d
}

// Remove deletes key and returns d.
func (d Document) Remove(key string) Document {
	delete(d, key)
	return d
}

// Keys returns the attribute keys in sorted order.
func (d Document) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// Attributes returns the user attributes (no '$' keys).
func (d Document) Attributes() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		if !strings.HasPrefix(k, "$") {
			out[k] = v
		}
	}
	return out
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = cloneValue(v)
	}
	return c
}

// Find returns the first element of the list at subKey whose key equals value.
func (d Document) Find(key string, value any, subKey string) (Document, bool) {
	list, _ := d[subKey].([]any)
	for _, item := range list {
		if doc, ok := AsDocument(item); ok && reflect.DeepEqual(doc[key], value) {
			return doc, true
		}
	}
	return nil, false
}

// AsDocument converts nested documents and plain maps.
func AsDocument(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	}
	return nil, false
}

// Normalize converts values to the canonical set used across the module:
// int64, float64, bool, string, nil, []any, Document.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64, Document:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case map[string]any:
		return New(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case []byte:
		return string(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return Document(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
	}
	return 0, false
}
