package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	"github.com/kailas-cloud/docbase/internal/domain/validator"
)

// CreateIndex adds an index over attributes of a collection. lengths and
// orders are optional and positional.
func (d *Database) CreateIndex(
	ctx context.Context, collection, id string, typ schema.IndexType,
	attributes []string, lengths []int, orders []string,
) (idx schema.Index, err error) {
	defer d.observe(opCreateIndex, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return schema.Index{}, err
	}
	if err := validator.ValidateKey(id); err != nil {
		return schema.Index{}, err
	}

	unlock := d.lockCollections(collection)
	defer unlock()

	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return schema.Index{}, err
	}
	idx = canonicalIndex(col, schema.Index{Key: id, Type: typ, Attributes: attributes, Lengths: lengths, Orders: orders})
	if err := d.createIndex(ctx, col, idx); err != nil {
		return schema.Index{}, err
	}

	d.log(ctx).Info("Index created", zap.String("collection", col.ID()),
		zap.String("index", id), zap.String("type", string(typ)))
	d.trigger(ctx, EventIndexCreate, idx)
	return idx, nil
}

// createIndex validates idx against col, issues the DDL and records the
// index in the metadata. The DDL is reverted when the metadata write fails.
func (d *Database) createIndex(ctx context.Context, col schema.Collection, idx schema.Index) error {
	if existing, ok := col.IndexFold(idx.Key); ok {
		return domain.Duplicate("index %q already exists as %q", idx.Key, existing.Key)
	}
	if err := d.validateIndex(col, idx); err != nil {
		return err
	}
	next := col.WithIndex(idx)
	if limit := d.adapter.LimitForIndexes(); limit > 0 && d.adapter.CountOfIndexes(next) > limit {
		return domain.NewLimitError("indexes of "+col.ID(), int64(limit))
	}

	if err := d.adapter.CreateIndex(ctx, col.ID(), idx, indexAttributes(col, idx)); err != nil && !d.sharedDuplicate(ctx, err) {
		return translate(opCreateIndex, err)
	}
	if err := d.saveCollection(ctx, next); err != nil {
		cause := translate(opCreateIndex, err)
		if d.adapter.Scope().SharedTables() {
			return cause
		}
		if derr := d.adapter.DeleteIndex(ctx, col.ID(), idx.Key); derr != nil {
			return domain.WithCompensation(opCreateIndex, cause, derr)
		}
		return cause
	}
	return nil
}

// canonicalIndex rewrites the attribute keys of idx to the spelling stored
// in col, so later exact lookups by attribute key find the index.
func canonicalIndex(col schema.Collection, idx schema.Index) schema.Index {
	attrs := slices.Clone(idx.Attributes)
	for i, key := range attrs {
		if a, ok := col.AttributeFold(key); ok {
			attrs[i] = a.Key
		}
	}
	idx.Attributes = attrs
	return idx
}

// validateIndex checks the index type is supported and its attributes
// exist and fit the adapter's index length.
func (d *Database) validateIndex(col schema.Collection, idx schema.Index) error {
	support := d.adapter.Support()
	supported := true
	switch idx.Type {
	case schema.IndexKey:
		supported = support.Index
	case schema.IndexUnique:
		supported = support.UniqueIndex
	case schema.IndexFulltext:
		supported = support.FulltextIndex
	}
	if !supported {
		return fmt.Errorf("%w: %s indexes", domain.ErrNotImplemented, idx.Type)
	}
	return validator.ValidateIndex(idx, col.Attributes(), d.adapter.MaxIndexLength())
}

// DeleteIndex removes an index.
func (d *Database) DeleteIndex(ctx context.Context, collection, id string) (err error) {
	defer d.observe(opDeleteIndex, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return err
	}

	unlock := d.lockCollections(collection)
	defer unlock()

	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return err
	}
	idx, ok := col.Index(id)
	if !ok {
		return domain.NotFound("index %q in collection %q", id, collection)
	}
	if err := d.deleteIndex(ctx, col, idx); err != nil {
		return err
	}

	d.log(ctx).Info("Index deleted", zap.String("collection", col.ID()), zap.String("index", id))
	d.trigger(ctx, EventIndexDelete, idx)
	return nil
}

func (d *Database) deleteIndex(ctx context.Context, col schema.Collection, idx schema.Index) error {
	if err := d.adapter.DeleteIndex(ctx, col.ID(), idx.Key); err != nil {
		return translate(opDeleteIndex, err)
	}
	if err := d.saveCollection(ctx, col.WithoutIndex(idx.Key)); err != nil {
		cause := translate(opDeleteIndex, err)
		if derr := d.adapter.CreateIndex(ctx, col.ID(), idx, indexAttributes(col, idx)); derr != nil {
			return domain.WithCompensation(opDeleteIndex, cause, derr)
		}
		return cause
	}
	return nil
}

// RenameIndex renames an index.
func (d *Database) RenameIndex(ctx context.Context, collection, oldID, newID string) (err error) {
	defer d.observe(opRenameIndex, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return err
	}
	if err := validator.ValidateKey(newID); err != nil {
		return err
	}

	unlock := d.lockCollections(collection)
	defer unlock()

	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return err
	}
	if err := d.renameIndex(ctx, col, oldID, newID); err != nil {
		return err
	}

	d.log(ctx).Info("Index renamed", zap.String("collection", col.ID()),
		zap.String("from", oldID), zap.String("to", newID))
	d.trigger(ctx, EventIndexRename, newID)
	return nil
}

func (d *Database) renameIndex(ctx context.Context, col schema.Collection, oldID, newID string) error {
	idx, ok := col.Index(oldID)
	if !ok {
		return domain.NotFound("index %q in collection %q", oldID, col.ID())
	}
	if other, ok := col.IndexFold(newID); ok && other.Key != oldID {
		return domain.Duplicate("index %q already exists as %q", newID, other.Key)
	}
	if err := d.adapter.RenameIndex(ctx, col.ID(), oldID, newID); err != nil {
		return translate(opRenameIndex, err)
	}
	idx.Key = newID
	if err := d.saveCollection(ctx, col.ReplaceIndex(oldID, idx)); err != nil {
		cause := translate(opRenameIndex, err)
		if derr := d.adapter.RenameIndex(ctx, col.ID(), newID, oldID); derr != nil {
			return domain.WithCompensation(opRenameIndex, cause, derr)
		}
		return cause
	}
	return nil
}
