package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	"github.com/kailas-cloud/docbase/internal/domain/validator"
)

// maxIntegerSize is the widest integer column in bytes.
const maxIntegerSize = 8

// AttributeUpdate is a partial attribute change. Unset fields keep their
// current value.
type AttributeUpdate struct {
	Type          schema.Optional[schema.AttributeType]
	Size          schema.Optional[int]
	Required      schema.Optional[bool]
	Default       schema.Optional[any]
	Signed        schema.Optional[bool]
	Array         schema.Optional[bool]
	Format        schema.Optional[string]
	FormatOptions schema.Optional[map[string]any]
	Filters       schema.Optional[[]string]
	NewKey        schema.Optional[string]
}

// altering reports whether u changes the physical column.
func (u AttributeUpdate) altering(current schema.Attribute) bool {
	return (u.Type.Set && u.Type.Value != current.Type) ||
		(u.Size.Set && u.Size.Value != current.Size) ||
		(u.Signed.Set && u.Signed.Value != current.Signed) ||
		(u.Array.Set && u.Array.Value != current.Array) ||
		(u.NewKey.Set && u.NewKey.Value != current.Key)
}

func (u AttributeUpdate) apply(a schema.Attribute) schema.Attribute {
	a.Type = u.Type.Or(a.Type)
	a.Size = u.Size.Or(a.Size)
	a.Required = u.Required.Or(a.Required)
	a.Default = document.Normalize(u.Default.Or(a.Default))
	a.Signed = u.Signed.Or(a.Signed)
	a.Array = u.Array.Or(a.Array)
	a.Format = u.Format.Or(a.Format)
	a.FormatOptions = u.FormatOptions.Or(a.FormatOptions)
	a.Filters = u.Filters.Or(a.Filters)
	a.Key = u.NewKey.Or(a.Key)
	return a
}

// CreateAttribute adds an attribute to a collection.
func (d *Database) CreateAttribute(
	ctx context.Context, collection string, attr schema.Attribute,
) (out schema.Attribute, err error) {
	defer d.observe(opCreateAttribute, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return schema.Attribute{}, err
	}
	if attr.Type == schema.TypeRelationship {
		return schema.Attribute{}, domain.Relationship("attribute %q: relationships are created with CreateRelationship", attr.Key)
	}
	attr.Default = document.Normalize(attr.Default)
	if err := d.validateAttribute(attr); err != nil {
		return schema.Attribute{}, err
	}

	unlock := d.lockCollections(collection)
	defer unlock()

	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return schema.Attribute{}, err
	}
	if err := d.checkAttribute(col, attr); err != nil {
		return schema.Attribute{}, err
	}

	if err := d.adapter.CreateAttribute(ctx, col.ID(), attr); err != nil && !d.sharedDuplicate(ctx, err) {
		return schema.Attribute{}, translate(opCreateAttribute, err)
	}
	if err := d.saveCollection(ctx, col.WithAttribute(attr)); err != nil {
		cause := translate(opCreateAttribute, err)
		if d.adapter.Scope().SharedTables() {
			return schema.Attribute{}, cause
		}
		if derr := d.adapter.DeleteAttribute(ctx, col.ID(), attr.Key, attr.Array); derr != nil {
			d.log(ctx).Error("Failed to drop attribute after metadata write failure",
				zap.String("collection", col.ID()), zap.String("attribute", attr.Key), zap.Error(derr))
			return schema.Attribute{}, domain.WithCompensation(opCreateAttribute, cause, derr)
		}
		return schema.Attribute{}, cause
	}

	d.log(ctx).Info("Attribute created", zap.String("collection", col.ID()),
		zap.String("attribute", attr.Key), zap.String("type", string(attr.Type)))
	d.trigger(ctx, EventAttributeCreate, attr)
	return attr, nil
}

// CheckAttribute reports whether attr could be added to a collection
// without exceeding the adapter's attribute count or row width limits.
func (d *Database) CheckAttribute(ctx context.Context, collection string, attr schema.Attribute) error {
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return err
	}
	return d.checkAttribute(col, attr)
}

func (d *Database) checkAttribute(col schema.Collection, attr schema.Attribute) error {
	if existing, ok := col.AttributeFold(attr.Key); ok {
		return domain.Duplicate("attribute %q already exists as %q", attr.Key, existing.Key)
	}
	return d.checkLimits(col.WithAttribute(attr))
}

// checkLimits rejects a prospective collection layout that exceeds the
// adapter's column count or row width.
func (d *Database) checkLimits(col schema.Collection) error {
	if limit := d.adapter.LimitForAttributes(); limit > 0 && d.adapter.CountOfAttributes(col) > limit {
		return domain.NewLimitError("attributes of "+col.ID(), int64(limit))
	}
	if limit := d.adapter.DocumentSizeLimit(); limit > 0 && d.adapter.AttributeWidth(col) >= limit {
		return domain.NewLimitError("row width of "+col.ID(), int64(limit))
	}
	return nil
}

// validateAttribute checks a non-relationship attribute definition.
func (d *Database) validateAttribute(attr schema.Attribute) error {
	if err := validator.ValidateKey(attr.Key); err != nil {
		return err
	}
	if d.isKeyword(attr.Key) {
		return domain.Structure("attribute key %q is a reserved keyword", attr.Key)
	}
	if !attr.Type.IsValid() || attr.Type == schema.TypeRelationship {
		return domain.Structure("attribute %q has unknown type %q", attr.Key, attr.Type)
	}

	switch attr.Type {
	case schema.TypeString:
		if attr.Size <= 0 {
			return domain.Structure("string attribute %q requires a size", attr.Key)
		}
		if limit := d.adapter.LimitForString(); int64(attr.Size) > limit {
			return domain.NewLimitError("size of string attribute "+attr.Key, limit)
		}
	case schema.TypeInteger:
		if attr.Size > maxIntegerSize {
			return domain.NewLimitError("size of integer attribute "+attr.Key, maxIntegerSize)
		}
	}

	if attr.Type == schema.TypeDatetime && !attr.HasFilter(schema.FilterDatetime) {
		return domain.Structure("datetime attribute %q requires the %q filter", attr.Key, schema.FilterDatetime)
	}
	chain := d.filters()
	for _, name := range attr.Filters {
		if !chain.Has(name) {
			return domain.Structure("attribute %q uses unknown filter %q", attr.Key, name)
		}
	}
	if attr.Format != "" && !d.formats.Has(attr.Format, attr.Type) {
		return domain.Structure("format %q is not available for %s attribute %q", attr.Format, attr.Type, attr.Key)
	}
	return validator.ValidateDefault(attr)
}

// UpdateAttribute changes an attribute. Physical DDL is only issued when
// the type, size, signedness, arrayness or key changes. A key change is
// propagated to every index covering the attribute.
func (d *Database) UpdateAttribute(
	ctx context.Context, collection, key string, upd AttributeUpdate,
) (out schema.Attribute, err error) {
	defer d.observe(opUpdateAttribute, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return schema.Attribute{}, err
	}

	unlock := d.lockCollections(collection)
	defer unlock()

	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return schema.Attribute{}, err
	}
	current, ok := col.Attribute(key)
	if !ok {
		return schema.Attribute{}, domain.NotFound("attribute %q in collection %q", key, collection)
	}
	if current.IsRelationship() {
		return schema.Attribute{}, domain.Relationship("attribute %q: relationships are changed with UpdateRelationship", key)
	}

	next := upd.apply(current)
	if next.Required && next.Default != nil {
		return schema.Attribute{}, domain.Structure("cannot set a default value for required attribute %q", key)
	}
	if err := d.validateAttribute(next); err != nil {
		return schema.Attribute{}, err
	}
	if next.Key != key {
		if other, ok := col.AttributeFold(next.Key); ok && other.Key != key {
			return schema.Attribute{}, domain.Duplicate("attribute %q already exists as %q", next.Key, other.Key)
		}
	}

	updated := col.ReplaceAttribute(key, next)
	if next.Key != key {
		updated = renameInIndexes(updated, key, next.Key)
	}
	if err := d.checkLimits(updated); err != nil {
		return schema.Attribute{}, err
	}

	altering := upd.altering(current)
	if altering {
		if err := d.adapter.UpdateAttribute(ctx, col.ID(), withKey(next, key), next.Key); err != nil {
			return schema.Attribute{}, translate(opUpdateAttribute, err)
		}
	}
	if err := d.saveCollection(ctx, updated); err != nil {
		cause := translate(opUpdateAttribute, err)
		if !altering || d.adapter.Scope().SharedTables() {
			return schema.Attribute{}, cause
		}
		if derr := d.adapter.UpdateAttribute(ctx, col.ID(), withKey(current, next.Key), key); derr != nil {
			return schema.Attribute{}, domain.WithCompensation(opUpdateAttribute, cause, derr)
		}
		return schema.Attribute{}, cause
	}

	d.log(ctx).Info("Attribute updated", zap.String("collection", col.ID()),
		zap.String("attribute", key), zap.Bool("altering", altering))
	d.trigger(ctx, EventAttributeUpdate, next)
	return next, nil
}

// UpdateAttributeRequired sets whether an attribute is required.
func (d *Database) UpdateAttributeRequired(ctx context.Context, collection, key string, required bool) (schema.Attribute, error) {
	return d.UpdateAttribute(ctx, collection, key, AttributeUpdate{Required: schema.Some(required)})
}

// UpdateAttributeFormat sets the format of an attribute.
func (d *Database) UpdateAttributeFormat(ctx context.Context, collection, key, format string) (schema.Attribute, error) {
	return d.UpdateAttribute(ctx, collection, key, AttributeUpdate{Format: schema.Some(format)})
}

// UpdateAttributeFormatOptions sets the format options of an attribute.
func (d *Database) UpdateAttributeFormatOptions(
	ctx context.Context, collection, key string, options map[string]any,
) (schema.Attribute, error) {
	return d.UpdateAttribute(ctx, collection, key, AttributeUpdate{FormatOptions: schema.Some(options)})
}

// UpdateAttributeFilters replaces the filters of an attribute.
func (d *Database) UpdateAttributeFilters(
	ctx context.Context, collection, key string, filters []string,
) (schema.Attribute, error) {
	return d.UpdateAttribute(ctx, collection, key, AttributeUpdate{Filters: schema.Some(filters)})
}

// UpdateAttributeDefault sets the default of an attribute. A nil value
// clears it.
func (d *Database) UpdateAttributeDefault(ctx context.Context, collection, key string, value any) (schema.Attribute, error) {
	return d.UpdateAttribute(ctx, collection, key, AttributeUpdate{Default: schema.Some(value)})
}

// RenameAttribute renames an attribute and every index reference to it.
func (d *Database) RenameAttribute(ctx context.Context, collection, oldKey, newKey string) (err error) {
	defer d.observe(opRenameAttribute, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return err
	}
	if err := validator.ValidateKey(newKey); err != nil {
		return err
	}
	if d.isKeyword(newKey) {
		return domain.Structure("attribute key %q is a reserved keyword", newKey)
	}

	unlock := d.lockCollections(collection)
	defer unlock()

	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return err
	}
	current, ok := col.Attribute(oldKey)
	if !ok {
		return domain.NotFound("attribute %q in collection %q", oldKey, collection)
	}
	if current.IsRelationship() {
		return domain.Relationship("attribute %q: relationships are renamed with UpdateRelationship", oldKey)
	}
	if other, ok := col.AttributeFold(newKey); ok && other.Key != oldKey {
		return domain.Duplicate("attribute %q already exists as %q", newKey, other.Key)
	}

	if err := d.adapter.RenameAttribute(ctx, col.ID(), oldKey, newKey); err != nil {
		return translate(opRenameAttribute, err)
	}
	updated := renameInIndexes(col.ReplaceAttribute(oldKey, withKey(current, newKey)), oldKey, newKey)
	if err := d.saveCollection(ctx, updated); err != nil {
		cause := translate(opRenameAttribute, err)
		if derr := d.adapter.RenameAttribute(ctx, col.ID(), newKey, oldKey); derr != nil {
			return domain.WithCompensation(opRenameAttribute, cause, derr)
		}
		return cause
	}

	d.log(ctx).Info("Attribute renamed", zap.String("collection", col.ID()),
		zap.String("from", oldKey), zap.String("to", newKey))
	d.trigger(ctx, EventAttributeUpdate, withKey(current, newKey))
	return nil
}

// DeleteAttribute removes an attribute. Indexes covering only the
// attribute are deleted; composite indexes are rebuilt without it.
func (d *Database) DeleteAttribute(ctx context.Context, collection, key string) (err error) {
	defer d.observe(opDeleteAttribute, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return err
	}

	unlock := d.lockCollections(collection)
	defer unlock()

	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return err
	}
	attr, ok := col.Attribute(key)
	if !ok {
		return domain.NotFound("attribute %q in collection %q", key, collection)
	}
	if attr.IsRelationship() {
		return domain.Relationship("attribute %q: relationships are deleted with DeleteRelationship", key)
	}

	var rebuilt []schema.Index
	updated := col.WithoutAttribute(key)
	for _, idx := range col.Indexes() {
		if !slices.Contains(idx.Attributes, key) {
			continue
		}
		remaining := withoutAttribute(idx, key)
		if len(remaining.Attributes) == 0 {
			updated = updated.WithoutIndex(idx.Key)
			continue
		}
		updated = updated.ReplaceIndex(idx.Key, remaining)
		rebuilt = append(rebuilt, remaining)
	}

	if err := d.adapter.DeleteAttribute(ctx, col.ID(), key, attr.Array); err != nil &&
		!errors.Is(err, adapter.ErrNotFound) {
		return translate(opDeleteAttribute, err)
	}
	for _, idx := range rebuilt {
		if err := d.adapter.DeleteIndex(ctx, col.ID(), idx.Key); err != nil && !errors.Is(err, adapter.ErrNotFound) {
			return translate(opDeleteAttribute, err)
		}
		if err := d.adapter.CreateIndex(ctx, col.ID(), idx, indexAttributes(updated, idx)); err != nil &&
			!d.sharedDuplicate(ctx, err) {
			return translate(opDeleteAttribute, fmt.Errorf("rebuild index %q: %w", idx.Key, err))
		}
	}
	if err := d.saveCollection(ctx, updated); err != nil {
		return translate(opDeleteAttribute, err)
	}

	d.log(ctx).Info("Attribute deleted", zap.String("collection", col.ID()),
		zap.String("attribute", key), zap.Int("rebuilt_indexes", len(rebuilt)))
	d.trigger(ctx, EventAttributeDelete, attr)
	return nil
}

// sharedDuplicate reports a duplicate DDL error caused by another tenant
// creating the same physical structure.
func (d *Database) sharedDuplicate(ctx context.Context, err error) bool {
	if !d.adapter.Scope().SharedTables() || !errors.Is(err, adapter.ErrDuplicate) {
		return false
	}
	d.log(ctx).Warn("Tolerating duplicate on shared table", zap.Error(err))
	return true
}

func withKey(a schema.Attribute, key string) schema.Attribute {
	a.Key = key
	return a
}

func renameInIndexes(col schema.Collection, oldKey, newKey string) schema.Collection {
	for _, idx := range col.Indexes() {
		changed := false
		for i, a := range idx.Attributes {
			if a == oldKey {
				idx.Attributes[i] = newKey
				changed = true
			}
		}
		if changed {
			col = col.ReplaceIndex(idx.Key, idx)
		}
	}
	return col
}

func withoutAttribute(idx schema.Index, key string) schema.Index {
	out := schema.Index{Key: idx.Key, Type: idx.Type}
	for i, a := range idx.Attributes {
		if a == key {
			continue
		}
		out.Attributes = append(out.Attributes, a)
		if i < len(idx.Lengths) {
			out.Lengths = append(out.Lengths, idx.Lengths[i])
		}
		if i < len(idx.Orders) {
			out.Orders = append(out.Orders, idx.Orders[i])
		}
	}
	return out
}

// indexAttributes resolves the attribute definitions an index covers.
func indexAttributes(col schema.Collection, idx schema.Index) []schema.Attribute {
	out := make([]schema.Attribute, 0, len(idx.Attributes))
	for _, key := range idx.Attributes {
		if a, ok := col.Attribute(key); ok {
			out = append(out, a)
		}
	}
	return out
}
