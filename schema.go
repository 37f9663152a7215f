package docbase

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/docbase/internal/domain/datetime"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

const (
	tagKey            = "docbase"
	defaultStringSize = 255
)

var timeType = reflect.TypeOf(time.Time{})

// schemaMeta holds parsed struct tag metadata, cached per TypedCollection.
type schemaMeta struct {
	typ   reflect.Type
	idIdx int // -1 if the struct has no id field

	fields     []fieldMapping
	attributes []Attribute
	indexes    []Index
}

type fieldMapping struct {
	structIdx int
	key       string
}

// parseSchema reflects on T and extracts docbase struct tag metadata.
//
// Tag grammar: `docbase:"key,mod,mod=value,..."`. Modifiers: id, required,
// array, signed, size=N, format=NAME, filter=NAME, datetime, index,
// unique, fulltext.
func parseSchema[T any]() (*schemaMeta, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, fmt.Errorf("docbase: type parameter must be a struct")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("docbase: type %s is not a struct", t)
	}

	meta := &schemaMeta{typ: t, idIdx: -1}
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get(tagKey)
		if tag == "" || tag == "-" || !f.IsExported() {
			continue
		}
		if err := applyTag(meta, i, f, tag); err != nil {
			return nil, err
		}
	}
	if len(meta.attributes) == 0 {
		return nil, fmt.Errorf("docbase: no attribute fields in %s", t)
	}
	return meta, nil
}

// applyTag processes a single struct field's docbase tag.
func applyTag(meta *schemaMeta, idx int, f reflect.StructField, tag string) error {
	parts := strings.Split(tag, ",")
	key := parts[0]

	if len(parts) == 2 && parts[1] == "id" {
		if meta.idIdx != -1 {
			return fmt.Errorf("docbase: duplicate id tag on field %s", f.Name)
		}
		if f.Type.Kind() != reflect.String {
			return fmt.Errorf("docbase: id field %s must be a string", f.Name)
		}
		meta.idIdx = idx
		return nil
	}
	if key == "" {
		return fmt.Errorf("docbase: missing key on field %s", f.Name)
	}

	attr, err := attributeFor(key, f.Type)
	if err != nil {
		return fmt.Errorf("docbase: field %s: %w", f.Name, err)
	}
	for _, mod := range parts[1:] {
		name, value, _ := strings.Cut(mod, "=")
		switch name {
		case "required":
			attr.Required = true
		case "array":
			attr.Array = true
		case "signed":
			attr.Signed = true
		case "size":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("docbase: invalid size %q on field %s", value, f.Name)
			}
			attr.Size = n
		case "format":
			attr.Format = value
		case "filter":
			attr.Filters = append(attr.Filters, value)
		case "datetime":
			attr.Type = schema.TypeDatetime
			attr.Size = 0
			if !attr.HasFilter(schema.FilterDatetime) {
				attr.Filters = append(attr.Filters, schema.FilterDatetime)
			}
		case "index", "unique", "fulltext":
			meta.indexes = append(meta.indexes, Index{
				Key:        name + "_" + key,
				Type:       indexTypes[name],
				Attributes: []string{key},
			})
		default:
			return fmt.Errorf("docbase: unknown modifier %q on field %s", name, f.Name)
		}
	}

	meta.attributes = append(meta.attributes, attr)
	meta.fields = append(meta.fields, fieldMapping{structIdx: idx, key: key})
	return nil
}

var indexTypes = map[string]IndexType{
	"index":    IndexKey,
	"unique":   IndexUnique,
	"fulltext": IndexFulltext,
}

// attributeFor infers the attribute type from a Go field type. Slices map
// to array attributes of their element type.
func attributeFor(key string, t reflect.Type) (Attribute, error) {
	attr := Attribute{Key: key}
	if t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8 {
		attr.Array = true
		t = t.Elem()
	}
	switch {
	case t == timeType:
		attr.Type = schema.TypeDatetime
		attr.Filters = []string{schema.FilterDatetime}
	case t.Kind() == reflect.String:
		attr.Type = schema.TypeString
		attr.Size = defaultStringSize
	case t.Kind() == reflect.Bool:
		attr.Type = schema.TypeBoolean
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Int64:
		attr.Type = schema.TypeInteger
		attr.Signed = true
		attr.Size = int(t.Size())
	case t.Kind() >= reflect.Uint && t.Kind() <= reflect.Uint64:
		attr.Type = schema.TypeInteger
		attr.Size = int(t.Size())
	case t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64:
		attr.Type = schema.TypeFloat
		attr.Signed = true
	default:
		return Attribute{}, fmt.Errorf("unsupported type %s", t)
	}
	return attr, nil
}

// toDocument converts a typed struct to a Document using schema metadata.
func (m *schemaMeta) toDocument(item any) Document {
	v := reflect.ValueOf(item)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	doc := make(Document, len(m.fields)+1)
	if m.idIdx != -1 {
		if id := v.Field(m.idIdx).String(); id != "" {
			doc[document.KeyID] = id
		}
	}
	for _, fm := range m.fields {
		doc[fm.key] = toValue(v.Field(fm.structIdx))
	}
	return doc
}

func toValue(v reflect.Value) any {
	if v.Type() == timeType {
		t, _ := v.Interface().(time.Time)
		if t.IsZero() {
			return nil
		}
		return datetime.Format(t)
	}
	if v.Kind() == reflect.Slice && v.Type() != reflect.TypeOf([]byte(nil)) {
		if v.IsNil() {
			return []any{}
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = toValue(v.Index(i))
		}
		return out
	}
	return document.Normalize(v.Interface())
}

// fromDocument converts a Document back to a typed struct.
func (m *schemaMeta) fromDocument(doc Document) (any, error) {
	v := reflect.New(m.typ).Elem()
	if m.idIdx != -1 {
		v.Field(m.idIdx).SetString(doc.ID())
	}
	for _, fm := range m.fields {
		raw, ok := doc[fm.key]
		if !ok || raw == nil {
			continue
		}
		if err := setValue(v.Field(fm.structIdx), raw); err != nil {
			return nil, fmt.Errorf("docbase: attribute %q: %w", fm.key, err)
		}
	}
	return v.Interface(), nil
}

func setValue(v reflect.Value, raw any) error {
	if v.Type() == timeType {
		t, err := datetime.Parse(raw)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(t))
		return nil
	}
	switch v.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", raw)
		}
		v.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", raw)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := toFloat64(raw)
		if !ok {
			return fmt.Errorf("expected number, got %T", raw)
		}
		v.SetInt(int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := toFloat64(raw)
		if !ok || f < 0 {
			return fmt.Errorf("expected unsigned number, got %v", raw)
		}
		v.SetUint(uint64(f))
	case reflect.Float32, reflect.Float64:
		f, ok := toFloat64(raw)
		if !ok {
			return fmt.Errorf("expected number, got %T", raw)
		}
		v.SetFloat(f)
	case reflect.Slice:
		items := reflect.ValueOf(raw)
		if items.Kind() != reflect.Slice {
			return fmt.Errorf("expected array, got %T", raw)
		}
		out := reflect.MakeSlice(v.Type(), items.Len(), items.Len())
		for i := range items.Len() {
			if err := setValue(out.Index(i), items.Index(i).Interface()); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		v.Set(out)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
