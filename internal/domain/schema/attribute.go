package schema

import (
	"slices"
	"strings"

	"github.com/kailas-cloud/docbase/internal/domain/document"
)

// RelationOptions describes one side of a relationship.
type RelationOptions struct {
	RelatedCollection string
	RelationType      RelationType
	TwoWay            bool
	TwoWayKey         string
	OnDelete          OnDelete
	Side              Side
}

// Attribute is a typed field definition.
type Attribute struct {
	Key           string
	Type          AttributeType
	Size          int
	Required      bool
	Default       any
	Signed        bool
	Array         bool
	Format        string
	FormatOptions map[string]any
	Filters       []string
	Options       *RelationOptions
}

// IsRelationship reports whether a is a relationship attribute.
func (a Attribute) IsRelationship() bool { return a.Type == TypeRelationship && a.Options != nil }

// HasFilter reports whether a lists the named filter.
func (a Attribute) HasFilter(name string) bool { return slices.Contains(a.Filters, name) }

// SameKey compares keys case-insensitively.
func (a Attribute) SameKey(key string) bool { return strings.EqualFold(a.Key, key) }

// Clone returns a deep copy.
func (a Attribute) Clone() Attribute {
	c := a
	c.Filters = slices.Clone(a.Filters)
	if a.FormatOptions != nil {
		c.FormatOptions = make(map[string]any, len(a.FormatOptions))
		for k, v := range a.FormatOptions {
			c.FormatOptions[k] = v
		}
	}
	if a.Options != nil {
		opts := *a.Options
		c.Options = &opts
	}
	if d, ok := a.Default.([]any); ok {
		c.Default = slices.Clone(d)
	}
	return c
}

// ToDocument encodes the attribute for the metadata collection.
func (a Attribute) ToDocument() document.Document {
	d := document.Document{
		document.KeyID: a.Key,
		"key":          a.Key,
		"type":         string(a.Type),
		"size":         int64(a.Size),
		"required":     a.Required,
		"default":      document.Normalize(a.Default),
		"signed":       a.Signed,
		"array":        a.Array,
		"format":       a.Format,
		"filters":      toAnySlice(a.Filters),
	}
	if a.FormatOptions != nil {
		d["formatOptions"] = document.New(a.FormatOptions)
	} else {
		d["formatOptions"] = document.Document{}
	}
	if a.Options != nil {
		d["options"] = document.Document{
			"relatedCollection": a.Options.RelatedCollection,
			"relationType":      string(a.Options.RelationType),
			"twoWay":            a.Options.TwoWay,
			"twoWayKey":         a.Options.TwoWayKey,
			"onDelete":          string(a.Options.OnDelete),
			"side":              string(a.Options.Side),
		}
	}
	return d
}

// AttributeFromDocument decodes a metadata attribute entry.
func AttributeFromDocument(d document.Document) Attribute {
	key := d.GetString("key")
	if key == "" {
		key = d.ID()
	}
	size, _ := d.GetInt("size")
	a := Attribute{
		Key:      key,
		Type:     AttributeType(d.GetString("type")),
		Size:     int(size),
		Required: d.GetBool("required"),
		Default:  d.Get("default"),
		Signed:   d.GetBool("signed"),
		Array:    d.GetBool("array"),
		Format:   d.GetString("format"),
		Filters:  d.Strings("filters"),
	}
	if opts, ok := document.AsDocument(d.Get("formatOptions")); ok && len(opts) > 0 {
		a.FormatOptions = map[string]any(opts.Clone())
	}
	if opts, ok := document.AsDocument(d.Get("options")); ok && len(opts) > 0 {
		a.Options = &RelationOptions{
			RelatedCollection: opts.GetString("relatedCollection"),
			RelationType:      RelationType(opts.GetString("relationType")),
			TwoWay:            opts.GetBool("twoWay"),
			TwoWayKey:         opts.GetString("twoWayKey"),
			OnDelete:          OnDelete(opts.GetString("onDelete")),
			Side:              Side(opts.GetString("side")),
		}
	}
	return a
}

// Index is an index definition over one or more attributes.
type Index struct {
	Key        string
	Type       IndexType
	Attributes []string
	Lengths    []int
	Orders     []string
}

// Clone returns a deep copy.
func (i Index) Clone() Index {
	c := i
	c.Attributes = slices.Clone(i.Attributes)
	c.Lengths = slices.Clone(i.Lengths)
	c.Orders = slices.Clone(i.Orders)
	return c
}

// ToDocument encodes the index for the metadata collection.
func (i Index) ToDocument() document.Document {
	lengths := make([]any, len(i.Lengths))
	for n, l := range i.Lengths {
		lengths[n] = int64(l)
	}
	return document.Document{
		document.KeyID: i.Key,
		"key":          i.Key,
		"type":         string(i.Type),
		"attributes":   toAnySlice(i.Attributes),
		"lengths":      lengths,
		"orders":       toAnySlice(i.Orders),
	}
}

// IndexFromDocument decodes a metadata index entry.
func IndexFromDocument(d document.Document) Index {
	key := d.GetString("key")
	if key == "" {
		key = d.ID()
	}
	idx := Index{
		Key:        key,
		Type:       IndexType(d.GetString("type")),
		Attributes: d.Strings("attributes"),
		Orders:     d.Strings("orders"),
	}
	if list, ok := d.Get("lengths").([]any); ok {
		for _, v := range list {
			n, _ := document.Document{"n": v}.GetInt("n")
			idx.Lengths = append(idx.Lengths, int(n))
		}
	}
	return idx
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
