package database

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/datetime"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// filtered returns the attributes whose values pass through filters:
// the timestamps and every non-relationship attribute of col.
func filtered(col schema.Collection) []schema.Attribute {
	out := []schema.Attribute{
		{Key: document.KeyCreatedAt, Type: schema.TypeDatetime, Filters: []string{schema.FilterDatetime}},
		{Key: document.KeyUpdatedAt, Type: schema.TypeDatetime, Filters: []string{schema.FilterDatetime}},
	}
	for _, a := range col.Attributes() {
		if !a.IsRelationship() {
			out = append(out, a)
		}
	}
	return out
}

// encode returns a copy of doc with every attribute's encode filters
// applied in order. Array values are filtered element by element.
func (d *Database) encode(col schema.Collection, doc document.Document) (document.Document, error) {
	out := doc.Clone()
	chain := d.filters()
	for _, attr := range filtered(col) {
		value, ok := out[attr.Key]
		if !ok || value == nil || len(attr.Filters) == 0 {
			continue
		}
		for _, name := range attr.Filters {
			f, err := chain.Lookup(name)
			if err != nil {
				return nil, domain.Structure("attribute %q: %v", attr.Key, err)
			}
			value, err = applyFilter(attr, value, out, f.Encode)
			if err != nil {
				return nil, domain.Structure("attribute %q: encode %s: %v", attr.Key, name, err)
			}
		}
		out[attr.Key] = value
	}
	return out, nil
}

// decode returns a copy of doc with every attribute's decode filters
// applied in reverse order.
func (d *Database) decode(col schema.Collection, doc document.Document) (document.Document, error) {
	out := doc.Clone()
	chain := d.filters()
	for _, attr := range filtered(col) {
		value, ok := out[attr.Key]
		if !ok || value == nil || len(attr.Filters) == 0 {
			continue
		}
		for _, name := range slices.Backward(attr.Filters) {
			f, err := chain.Lookup(name)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", attr.Key, err)
			}
			value, err = applyFilter(attr, value, out, f.Decode)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: decode %s: %w", attr.Key, name, err)
			}
		}
		out[attr.Key] = value
	}
	return out, nil
}

func applyFilter(attr schema.Attribute, value any, doc document.Document, fn func(any, document.Document) (any, error)) (any, error) {
	list, isList := value.([]any)
	if !attr.Array || !isList {
		return fn(value, doc)
	}
	out := make([]any, len(list))
	for i, item := range list {
		if item == nil {
			continue
		}
		v, err := fn(item, doc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// cast converts loosely typed values returned by adapters without native
// typing into the attribute types.
func cast(col schema.Collection, doc document.Document) document.Document {
	for _, attr := range col.Attributes() {
		value, ok := doc[attr.Key]
		if !ok || value == nil || attr.IsRelationship() {
			continue
		}
		if attr.Array {
			list, isList := value.([]any)
			if !isList {
				s, isString := value.(string)
				if !isString || json.Unmarshal([]byte(s), &list) != nil {
					continue
				}
			}
			out := make([]any, len(list))
			for i, item := range list {
				out[i] = castScalar(attr.Type, item)
			}
			doc[attr.Key] = out
			continue
		}
		doc[attr.Key] = castScalar(attr.Type, value)
	}
	return doc
}

func castScalar(typ schema.AttributeType, v any) any {
	switch typ {
	case schema.TypeBoolean:
		switch t := v.(type) {
		case string:
			b, err := strconv.ParseBool(t)
			if err == nil {
				return b
			}
		case int64:
			return t != 0
		case float64:
			return t != 0
		}
	case schema.TypeInteger:
		switch t := v.(type) {
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n
			}
		case float64:
			if t == math.Trunc(t) {
				return int64(t)
			}
		}
	case schema.TypeFloat:
		switch t := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		case int64:
			return float64(t)
		}
	}
	return v
}

// read turns a stored document into its API form: cast when the adapter
// lacks native typing, then decoded.
func (d *Database) read(col schema.Collection, raw document.Document) (document.Document, error) {
	doc := raw.Clone()
	if !d.adapter.Support().Casting {
		doc = cast(col, doc)
	}
	out, err := d.decode(col, doc)
	if err != nil {
		return nil, domain.NewStorageError(opGetDocument, err)
	}
	out[document.KeyCollection] = col.ID()
	return out, nil
}

// now returns the timestamp of the current request in API layout.
func now(ctx context.Context) string {
	if t, ok := requestTimestamp(ctx); ok {
		return datetime.Format(t)
	}
	return datetime.Format(time.Now())
}
