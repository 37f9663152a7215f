package schema

import (
	"slices"
	"strings"

	"github.com/kailas-cloud/docbase/internal/domain/document"
)

// Collection is a collection schema (immutable value object).
// Mutators return modified copies; the receiver is never changed.
type Collection struct {
	id               string
	internalID       string
	name             string
	attributes       []Attribute
	indexes          []Index
	permissions      []string
	documentSecurity bool
	tenant           *int64
	createdAt        string
	updatedAt        string
}

// NewCollection creates a collection schema.
func NewCollection(
	id string, attributes []Attribute, indexes []Index, permissions []string, documentSecurity bool,
) Collection {
	return Collection{
		id:               id,
		name:             id,
		attributes:       cloneAttributes(attributes),
		indexes:          cloneIndexes(indexes),
		permissions:      slices.Clone(permissions),
		documentSecurity: documentSecurity,
	}
}

// ID returns the collection identifier.
func (c Collection) ID() string { return c.id }

// InternalID returns the storage-assigned identifier of the metadata row.
func (c Collection) InternalID() string { return c.internalID }

// Name returns the display name.
func (c Collection) Name() string { return c.name }

// IsEmpty reports whether c is the zero collection.
func (c Collection) IsEmpty() bool { return c.id == "" }

// Attributes returns a copy of the attribute list.
func (c Collection) Attributes() []Attribute { return cloneAttributes(c.attributes) }

// Indexes returns a copy of the index list.
func (c Collection) Indexes() []Index { return cloneIndexes(c.indexes) }

// Permissions returns the collection-level permissions.
func (c Collection) Permissions() []string { return slices.Clone(c.permissions) }

// DocumentSecurity reports whether per-document permissions apply.
func (c Collection) DocumentSecurity() bool { return c.documentSecurity }

// Tenant returns the owning tenant, if any.
func (c Collection) Tenant() (int64, bool) {
	if c.tenant == nil {
		return 0, false
	}
	return *c.tenant, true
}

// Attribute returns the attribute with the exact key.
func (c Collection) Attribute(key string) (Attribute, bool) {
	for _, a := range c.attributes {
		if a.Key == key {
			return a.Clone(), true
		}
	}
	return Attribute{}, false
}

// AttributeFold returns the attribute whose key matches case-insensitively.
func (c Collection) AttributeFold(key string) (Attribute, bool) {
	for _, a := range c.attributes {
		if strings.EqualFold(a.Key, key) {
			return a.Clone(), true
		}
	}
	return Attribute{}, false
}

// Relationships returns the relationship attributes.
func (c Collection) Relationships() []Attribute {
	var out []Attribute
	for _, a := range c.attributes {
		if a.IsRelationship() {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Index returns the index with the exact key.
func (c Collection) Index(key string) (Index, bool) {
	for _, i := range c.indexes {
		if i.Key == key {
			return i.Clone(), true
		}
	}
	return Index{}, false
}

// IndexFold returns the index whose key matches case-insensitively.
func (c Collection) IndexFold(key string) (Index, bool) {
	for _, i := range c.indexes {
		if strings.EqualFold(i.Key, key) {
			return i.Clone(), true
		}
	}
	return Index{}, false
}

// WithAttribute returns a copy with a appended.
func (c Collection) WithAttribute(a Attribute) Collection {
	out := c.copy()
	out.attributes = append(out.attributes, a.Clone())
	return out
}

// WithAttributes returns a copy with the attribute list replaced.
func (c Collection) WithAttributes(attrs []Attribute) Collection {
	out := c.copy()
	out.attributes = cloneAttributes(attrs)
	return out
}

// ReplaceAttribute returns a copy with the attribute keyed key replaced by a.
func (c Collection) ReplaceAttribute(key string, a Attribute) Collection {
	out := c.copy()
	for i := range out.attributes {
		if out.attributes[i].Key == key {
			out.attributes[i] = a.Clone()
		}
	}
	return out
}

// WithoutAttribute returns a copy without the attribute keyed key.
func (c Collection) WithoutAttribute(key string) Collection {
	out := c.copy()
	out.attributes = slices.DeleteFunc(out.attributes, func(a Attribute) bool { return a.Key == key })
	return out
}

// WithIndex returns a copy with idx appended.
func (c Collection) WithIndex(idx Index) Collection {
	out := c.copy()
	out.indexes = append(out.indexes, idx.Clone())
	return out
}

// WithIndexes returns a copy with the index list replaced.
func (c Collection) WithIndexes(indexes []Index) Collection {
	out := c.copy()
	out.indexes = cloneIndexes(indexes)
	return out
}

// ReplaceIndex returns a copy with the index keyed key replaced by idx.
func (c Collection) ReplaceIndex(key string, idx Index) Collection {
	out := c.copy()
	for i := range out.indexes {
		if out.indexes[i].Key == key {
			out.indexes[i] = idx.Clone()
		}
	}
	return out
}

// WithoutIndex returns a copy without the index keyed key.
func (c Collection) WithoutIndex(key string) Collection {
	out := c.copy()
	out.indexes = slices.DeleteFunc(out.indexes, func(i Index) bool { return i.Key == key })
	return out
}

// WithPermissions returns a copy with permissions replaced.
func (c Collection) WithPermissions(perms []string) Collection {
	out := c.copy()
	out.permissions = slices.Clone(perms)
	return out
}

// WithDocumentSecurity returns a copy with the document security flag set.
func (c Collection) WithDocumentSecurity(enabled bool) Collection {
	out := c.copy()
	out.documentSecurity = enabled
	return out
}

// WithTenant returns a copy owned by tenant.
func (c Collection) WithTenant(tenant int64) Collection {
	out := c.copy()
	out.tenant = &tenant
	return out
}

// ToDocument encodes the collection as a metadata document.
func (c Collection) ToDocument() document.Document {
	attrs := make([]any, len(c.attributes))
	for i, a := range c.attributes {
		attrs[i] = a.ToDocument()
	}
	indexes := make([]any, len(c.indexes))
	for i, idx := range c.indexes {
		indexes[i] = idx.ToDocument()
	}
	perms := make([]any, len(c.permissions))
	for i, p := range c.permissions {
		perms[i] = p
	}
	d := document.Document{
		document.KeyID:          c.id,
		document.KeyPermissions: perms,
		"name":                  c.name,
		"attributes":            attrs,
		"indexes":               indexes,
		"documentSecurity":      c.documentSecurity,
	}
	if c.internalID != "" {
		d[document.KeyInternalID] = c.internalID
	}
	if c.tenant != nil {
		d[document.KeyTenant] = *c.tenant
	}
	if c.createdAt != "" {
		d[document.KeyCreatedAt] = c.createdAt
	}
	if c.updatedAt != "" {
		d[document.KeyUpdatedAt] = c.updatedAt
	}
	return d
}

// CollectionFromDocument decodes a metadata document. An empty document
// yields the zero collection.
func CollectionFromDocument(d document.Document) Collection {
	if d.IsEmpty() {
		return Collection{}
	}
	c := Collection{
		id:               d.ID(),
		internalID:       d.InternalID(),
		name:             d.GetString("name"),
		permissions:      d.Permissions(),
		documentSecurity: d.GetBool("documentSecurity"),
		createdAt:        d.CreatedAt(),
		updatedAt:        d.UpdatedAt(),
	}
	if c.name == "" {
		c.name = c.id
	}
	if t, ok := d.Tenant(); ok {
		c.tenant = &t
	}
	if list, ok := d.Get("attributes").([]any); ok {
		for _, item := range list {
			if ad, ok := document.AsDocument(item); ok {
				c.attributes = append(c.attributes, AttributeFromDocument(ad))
			}
		}
	}
	if list, ok := d.Get("indexes").([]any); ok {
		for _, item := range list {
			if id, ok := document.AsDocument(item); ok {
				c.indexes = append(c.indexes, IndexFromDocument(id))
			}
		}
	}
	return c
}

func (c Collection) copy() Collection {
	out := c
	out.attributes = cloneAttributes(c.attributes)
	out.indexes = cloneIndexes(c.indexes)
	out.permissions = slices.Clone(c.permissions)
	if c.tenant != nil {
		t := *c.tenant
		out.tenant = &t
	}
	return out
}

func cloneAttributes(attrs []Attribute) []Attribute {
	if attrs == nil {
		return nil
	}
	out := make([]Attribute, len(attrs))
	for i, a := range attrs {
		out[i] = a.Clone()
	}
	return out
}

func cloneIndexes(indexes []Index) []Index {
	if indexes == nil {
		return nil
	}
	out := make([]Index, len(indexes))
	for i, idx := range indexes {
		out[i] = idx.Clone()
	}
	return out
}
