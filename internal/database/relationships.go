package database

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	"github.com/kailas-cloud/docbase/internal/domain/validator"
)

// Relationship describes a relationship to create. Key defaults to the
// related collection id and TwoWayKey to the collection id. OnDelete
// defaults to restrict.
type Relationship struct {
	Collection        string
	RelatedCollection string
	Type              schema.RelationType
	TwoWay            bool
	Key               string
	TwoWayKey         string
	OnDelete          schema.OnDelete
}

// RelationshipUpdate is a partial relationship change made from the side
// of the named attribute. NewTwoWayKey renames the mirrored attribute.
type RelationshipUpdate struct {
	NewKey       schema.Optional[string]
	NewTwoWayKey schema.Optional[string]
	TwoWay       schema.Optional[bool]
	OnDelete     schema.Optional[schema.OnDelete]
}

// CreateRelationship adds a relationship attribute to Collection and its
// mirror to RelatedCollection. Either both attributes exist afterwards or
// neither does.
func (d *Database) CreateRelationship(ctx context.Context, rel Relationship) (attr schema.Attribute, err error) {
	defer d.observe(opCreateRelationship, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return schema.Attribute{}, err
	}
	if !d.adapter.Support().Relationships {
		return schema.Attribute{}, errors.Join(domain.ErrNotImplemented, errors.New("relationships"))
	}
	if rel.Key == "" {
		rel.Key = rel.RelatedCollection
	}
	if rel.TwoWayKey == "" {
		rel.TwoWayKey = rel.Collection
	}
	if rel.OnDelete == "" {
		rel.OnDelete = schema.OnDeleteRestrict
	}
	if err := d.validateRelationship(rel); err != nil {
		return schema.Attribute{}, err
	}

	unlock := d.lockCollections(rel.Collection, rel.RelatedCollection)
	defer unlock()

	col, err := d.mustCollection(ctx, rel.Collection)
	if err != nil {
		return schema.Attribute{}, err
	}
	related, err := d.mustCollection(ctx, rel.RelatedCollection)
	if err != nil {
		return schema.Attribute{}, err
	}

	parent, child := relationshipAttributes(rel)
	if err := checkRelationshipKeys(col, related, parent, child); err != nil {
		return schema.Attribute{}, err
	}
	if col.ID() == related.ID() {
		if err := d.checkLimits(col.WithAttribute(parent).WithAttribute(child)); err != nil {
			return schema.Attribute{}, err
		}
	} else {
		if err := d.checkLimits(col.WithAttribute(parent)); err != nil {
			return schema.Attribute{}, err
		}
		if err := d.checkLimits(related.WithAttribute(child)); err != nil {
			return schema.Attribute{}, err
		}
	}

	if err := d.createRelationship(ctx, col, related, parent, child); err != nil {
		return schema.Attribute{}, err
	}

	d.log(ctx).Info("Relationship created", zap.String("collection", col.ID()),
		zap.String("related_collection", related.ID()), zap.String("type", string(rel.Type)),
		zap.String("key", rel.Key), zap.String("two_way_key", rel.TwoWayKey), zap.Bool("two_way", rel.TwoWay))
	d.trigger(ctx, EventAttributeCreate, parent)
	return parent, nil
}

func (d *Database) validateRelationship(rel Relationship) error {
	if !rel.Type.IsValid() {
		return domain.Relationship("unknown relationship type %q", rel.Type)
	}
	if !rel.OnDelete.IsValid() {
		return domain.Relationship("unknown delete policy %q", rel.OnDelete)
	}
	for _, key := range []string{rel.Key, rel.TwoWayKey} {
		if err := validator.ValidateKey(key); err != nil {
			return err
		}
		if d.isKeyword(key) {
			return domain.Structure("attribute key %q is a reserved keyword", key)
		}
	}
	return nil
}

func relationshipAttributes(rel Relationship) (parent, child schema.Attribute) {
	parent = schema.Attribute{
		Key:  rel.Key,
		Type: schema.TypeRelationship,
		Options: &schema.RelationOptions{
			RelatedCollection: rel.RelatedCollection,
			RelationType:      rel.Type,
			TwoWay:            rel.TwoWay,
			TwoWayKey:         rel.TwoWayKey,
			OnDelete:          rel.OnDelete,
			Side:              schema.SideParent,
		},
	}
	child = schema.Attribute{
		Key:  rel.TwoWayKey,
		Type: schema.TypeRelationship,
		Options: &schema.RelationOptions{
			RelatedCollection: rel.Collection,
			RelationType:      rel.Type,
			TwoWay:            rel.TwoWay,
			TwoWayKey:         rel.Key,
			OnDelete:          rel.OnDelete,
			Side:              schema.SideChild,
		},
	}
	return parent, child
}

// checkRelationshipKeys rejects keys already taken on either collection
// and a second relationship between the same collections with the same
// mirrored key.
func checkRelationshipKeys(col, related schema.Collection, parent, child schema.Attribute) error {
	if parent.SameKey(child.Key) && col.ID() == related.ID() {
		return domain.Duplicate("relationship keys %q and %q collide", parent.Key, child.Key)
	}
	if existing, ok := col.AttributeFold(parent.Key); ok {
		return domain.Duplicate("attribute %q already exists as %q", parent.Key, existing.Key)
	}
	if existing, ok := related.AttributeFold(child.Key); ok {
		return domain.Duplicate("attribute %q already exists on %q as %q", child.Key, related.ID(), existing.Key)
	}
	for _, a := range col.Relationships() {
		if a.Options.RelatedCollection == related.ID() && a.Options.TwoWayKey == child.Key {
			return domain.Duplicate("related attribute %q already exists", child.Key)
		}
	}
	return nil
}

func (d *Database) createRelationship(ctx context.Context, col, related schema.Collection, parent, child schema.Attribute) error {
	u := &undo{}
	fail := func(err error) error {
		cause := translate(opCreateRelationship, err)
		out := u.run(ctx, opCreateRelationship, cause)
		if out != cause {
			d.log(ctx).Error("Relationship compensation failed",
				zap.String("collection", col.ID()), zap.String("key", parent.Key), zap.Error(out))
		}
		return out
	}

	if parent.Options.RelationType == schema.ManyToMany {
		junction := junctionCollection(col, related, parent)
		if err := d.createCollection(ctx, junction); err != nil {
			return fail(err)
		}
		u.add(func(ctx context.Context) error { return d.dropCollection(ctx, junction.ID()) })
	}

	rel := physicalRelationship(col.ID(), parent)
	switch err := d.adapter.CreateRelationship(ctx, rel); {
	case err == nil:
		u.add(func(ctx context.Context) error { return d.adapter.DeleteRelationship(ctx, rel) })
	case d.sharedDuplicate(ctx, err):
	default:
		return fail(err)
	}

	if err := d.saveCollection(ctx, col.WithAttribute(parent)); err != nil {
		return fail(err)
	}
	u.add(func(ctx context.Context) error { return d.saveCollection(ctx, col) })

	target, err := d.mustCollection(ctx, related.ID())
	if err != nil {
		return fail(err)
	}
	if err := d.saveCollection(ctx, target.WithAttribute(child)); err != nil {
		return fail(err)
	}
	if col.ID() != related.ID() {
		u.add(func(ctx context.Context) error { return d.saveCollection(ctx, related) })
	}

	for _, ri := range relationshipIndexes(col.ID(), related.ID(), parent) {
		if err := d.addRelationshipIndex(ctx, ri.collection, ri.index); err != nil {
			return fail(err)
		}
		u.add(func(ctx context.Context) error {
			if err := d.adapter.DeleteIndex(ctx, ri.collection, ri.index.Key); err != nil && !errors.Is(err, adapter.ErrNotFound) {
				return err
			}
			return nil
		})
	}
	return nil
}

type collectionIndex struct {
	collection string
	index      schema.Index
}

// relationshipIndexes lists the indexes backing the key columns of a
// relationship, described by its parent attribute.
func relationshipIndexes(collection, related string, parent schema.Attribute) []collectionIndex {
	key, twoWayKey := parent.Key, parent.Options.TwoWayKey
	switch parent.Options.RelationType {
	case schema.OneToOne:
		out := []collectionIndex{{collection, schema.Index{
			Key: schema.RelationshipIndexKey(key), Type: schema.IndexUnique, Attributes: []string{key},
		}}}
		if parent.Options.TwoWay {
			out = append(out, collectionIndex{related, schema.Index{
				Key: schema.RelationshipIndexKey(twoWayKey), Type: schema.IndexUnique, Attributes: []string{twoWayKey},
			}})
		}
		return out
	case schema.OneToMany:
		return []collectionIndex{{related, schema.Index{
			Key: schema.RelationshipIndexKey(twoWayKey), Type: schema.IndexKey, Attributes: []string{twoWayKey},
		}}}
	case schema.ManyToOne:
		return []collectionIndex{{collection, schema.Index{
			Key: schema.RelationshipIndexKey(key), Type: schema.IndexKey, Attributes: []string{key},
		}}}
	}
	return nil
}

// addRelationshipIndex creates an index over a relationship key column.
func (d *Database) addRelationshipIndex(ctx context.Context, collection string, idx schema.Index) error {
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return err
	}
	if err := d.adapter.CreateIndex(ctx, col.ID(), idx, indexAttributes(col, idx)); err != nil && !d.sharedDuplicate(ctx, err) {
		return err
	}
	return d.saveCollection(ctx, col.WithIndex(idx))
}

func junctionCollection(parentCol, childCol schema.Collection, parent schema.Attribute) schema.Collection {
	key, twoWayKey := parent.Key, parent.Options.TwoWayKey
	return schema.NewCollection(
		schema.JunctionID(parentCol.InternalID(), childCol.InternalID()),
		[]schema.Attribute{
			{Key: key, Type: schema.TypeString, Size: schema.KeyLength, Required: true},
			{Key: twoWayKey, Type: schema.TypeString, Size: schema.KeyLength, Required: true},
		},
		[]schema.Index{
			{Key: schema.RelationshipIndexKey(key), Type: schema.IndexKey, Attributes: []string{key}},
			{Key: schema.RelationshipIndexKey(twoWayKey), Type: schema.IndexKey, Attributes: []string{twoWayKey}},
		},
		nil,
		false,
	)
}

// physicalRelationship describes a relationship from its parent side for
// the adapter.
func physicalRelationship(collection string, parent schema.Attribute) adapter.Relationship {
	return adapter.Relationship{
		Collection:        collection,
		RelatedCollection: parent.Options.RelatedCollection,
		Type:              parent.Options.RelationType,
		TwoWay:            parent.Options.TwoWay,
		Key:               parent.Key,
		TwoWayKey:         parent.Options.TwoWayKey,
	}
}

// parentSide returns the parent collection id and parent attribute of the
// relationship attr belongs to.
func parentSide(collection string, attr schema.Attribute) (string, schema.Attribute) {
	if attr.Options.Side == schema.SideParent {
		return collection, attr
	}
	return attr.Options.RelatedCollection, mirror(collection, attr)
}

// mirror returns the attribute on the other side of a relationship.
func mirror(collection string, attr schema.Attribute) schema.Attribute {
	opts := *attr.Options
	side := schema.SideChild
	if opts.Side == schema.SideChild {
		side = schema.SideParent
	}
	return schema.Attribute{
		Key:  opts.TwoWayKey,
		Type: schema.TypeRelationship,
		Options: &schema.RelationOptions{
			RelatedCollection: collection,
			RelationType:      opts.RelationType,
			TwoWay:            opts.TwoWay,
			TwoWayKey:         attr.Key,
			OnDelete:          opts.OnDelete,
			Side:              side,
		},
	}
}

// DeleteRelationship removes a relationship attribute together with its
// mirror, key columns, indexes and junction collection.
func (d *Database) DeleteRelationship(ctx context.Context, collection, key string) (err error) {
	defer d.observe(opDeleteRelationship, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return err
	}
	attr, ok := col.Attribute(key)
	if !ok {
		return domain.NotFound("attribute %q in collection %q", key, collection)
	}
	if !attr.IsRelationship() {
		return domain.Relationship("attribute %q is not a relationship", key)
	}

	unlock := d.lockCollections(collection, attr.Options.RelatedCollection)
	defer unlock()
	if col, err = d.mustCollection(ctx, collection); err != nil {
		return err
	}
	if attr, ok = col.Attribute(key); !ok {
		return domain.NotFound("attribute %q in collection %q", key, collection)
	}
	if err := d.deleteRelationship(ctx, col, attr); err != nil {
		return err
	}

	d.log(ctx).Info("Relationship deleted", zap.String("collection", collection), zap.String("key", key))
	d.trigger(ctx, EventAttributeDelete, attr)
	return nil
}

// deleteRelationship strips both attributes from the metadata, then drops
// the key columns and the junction collection. The metadata is restored
// when the column drop fails.
func (d *Database) deleteRelationship(ctx context.Context, col schema.Collection, attr schema.Attribute) error {
	related, err := d.collection(ctx, attr.Options.RelatedCollection)
	if err != nil {
		return err
	}
	if related.IsEmpty() {
		return translate(opDeleteRelationship, d.saveCollection(ctx, withoutRelationship(col, attr.Key)))
	}

	u := &undo{}
	fail := func(err error) error {
		return u.run(ctx, opDeleteRelationship, translate(opDeleteRelationship, err))
	}

	mirrorKey := attr.Options.TwoWayKey
	if col.ID() == related.ID() {
		if err := d.saveCollection(ctx, withoutRelationship(withoutRelationship(col, attr.Key), mirrorKey)); err != nil {
			return fail(err)
		}
		u.add(func(ctx context.Context) error { return d.saveCollection(ctx, col) })
	} else {
		if err := d.saveCollection(ctx, withoutRelationship(col, attr.Key)); err != nil {
			return fail(err)
		}
		u.add(func(ctx context.Context) error { return d.saveCollection(ctx, col) })
		if err := d.saveCollection(ctx, withoutRelationship(related, mirrorKey)); err != nil {
			return fail(err)
		}
		u.add(func(ctx context.Context) error { return d.saveCollection(ctx, related) })
	}

	parentID, parent := parentSide(col.ID(), attr)
	if err := d.adapter.DeleteRelationship(ctx, physicalRelationship(parentID, parent)); err != nil &&
		!errors.Is(err, adapter.ErrNotFound) {
		return fail(err)
	}

	if attr.Options.RelationType == schema.ManyToMany {
		parentCol, childCol := col, related
		if attr.Options.Side == schema.SideChild {
			parentCol, childCol = related, col
		}
		if err := d.dropCollection(ctx, schema.JunctionID(parentCol.InternalID(), childCol.InternalID())); err != nil {
			return translate(opDeleteRelationship, err)
		}
	}
	return nil
}

// dropCollection removes a collection table and its metadata entry
// without relationship handling. Used for junction collections.
func (d *Database) dropCollection(ctx context.Context, id string) error {
	if d.adapter.Scope().SharedTables() {
		if err := d.deleteTenantRows(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	} else if err := d.adapter.DeleteCollection(ctx, id); err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return err
	}
	if _, err := d.adapter.DeleteDocument(ctx, schema.MetadataCollection, id); err != nil {
		return err
	}
	d.purgeCollection(ctx, id)
	return nil
}

// withoutRelationship removes a relationship attribute and every index
// covering it from the metadata.
func withoutRelationship(col schema.Collection, key string) schema.Collection {
	out := col.WithoutAttribute(key)
	for _, idx := range col.Indexes() {
		if slices.Contains(idx.Attributes, key) {
			out = out.WithoutIndex(idx.Key)
		}
	}
	return out
}

// UpdateRelationship renames a relationship attribute or its mirror and
// changes its delete policy or direction. Renames reach the junction
// collection of a many-to-many relationship.
func (d *Database) UpdateRelationship(
	ctx context.Context, collection, key string, upd RelationshipUpdate,
) (attr schema.Attribute, err error) {
	defer d.observe(opUpdateRelationship, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return schema.Attribute{}, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return schema.Attribute{}, err
	}
	current, ok := col.Attribute(key)
	if !ok {
		return schema.Attribute{}, domain.NotFound("attribute %q in collection %q", key, collection)
	}
	if !current.IsRelationship() {
		return schema.Attribute{}, domain.Relationship("attribute %q is not a relationship", key)
	}

	unlock := d.lockCollections(collection, current.Options.RelatedCollection)
	defer unlock()
	if col, err = d.mustCollection(ctx, collection); err != nil {
		return schema.Attribute{}, err
	}
	if current, ok = col.Attribute(key); !ok {
		return schema.Attribute{}, domain.NotFound("attribute %q in collection %q", key, collection)
	}
	related, err := d.mustCollection(ctx, current.Options.RelatedCollection)
	if err != nil {
		return schema.Attribute{}, err
	}

	next := current.Clone()
	next.Key = upd.NewKey.Or(current.Key)
	next.Options.TwoWayKey = upd.NewTwoWayKey.Or(current.Options.TwoWayKey)
	next.Options.TwoWay = upd.TwoWay.Or(current.Options.TwoWay)
	next.Options.OnDelete = upd.OnDelete.Or(current.Options.OnDelete)
	if err := d.validateRelationshipUpdate(col, related, current, next); err != nil {
		return schema.Attribute{}, err
	}

	if err := d.updateRelationship(ctx, col, related, current, next); err != nil {
		return schema.Attribute{}, err
	}

	d.log(ctx).Info("Relationship updated", zap.String("collection", collection),
		zap.String("key", key), zap.String("new_key", next.Key), zap.String("two_way_key", next.Options.TwoWayKey))
	d.trigger(ctx, EventAttributeUpdate, next)
	return next, nil
}

func (d *Database) validateRelationshipUpdate(col, related schema.Collection, current, next schema.Attribute) error {
	if !next.Options.OnDelete.IsValid() {
		return domain.Relationship("unknown delete policy %q", next.Options.OnDelete)
	}
	if next.Options.RelationType == schema.OneToOne && next.Options.TwoWay != current.Options.TwoWay {
		return domain.Relationship("the direction of one-to-one relationship %q cannot change", current.Key)
	}
	if next.Key != current.Key {
		if err := validator.ValidateKey(next.Key); err != nil {
			return err
		}
		if other, ok := col.AttributeFold(next.Key); ok && other.Key != current.Key {
			return domain.Duplicate("attribute %q already exists as %q", next.Key, other.Key)
		}
	}
	if next.Options.TwoWayKey != current.Options.TwoWayKey {
		if err := validator.ValidateKey(next.Options.TwoWayKey); err != nil {
			return err
		}
		if other, ok := related.AttributeFold(next.Options.TwoWayKey); ok && other.Key != current.Options.TwoWayKey {
			return domain.Duplicate("attribute %q already exists on %q as %q", next.Options.TwoWayKey, related.ID(), other.Key)
		}
	}
	return nil
}

func (d *Database) updateRelationship(ctx context.Context, col, related schema.Collection, current, next schema.Attribute) error {
	u := &undo{}
	fail := func(err error) error {
		return u.run(ctx, opUpdateRelationship, translate(opUpdateRelationship, err))
	}
	oldKey, newKey := current.Key, next.Key
	oldMirror, newMirror := current.Options.TwoWayKey, next.Options.TwoWayKey

	parentID, parent := parentSide(col.ID(), current)
	rel := physicalRelationship(parentID, parent)
	newParentKey, newChildKey := newKey, newMirror
	if current.Options.Side == schema.SideChild {
		newParentKey, newChildKey = newMirror, newKey
	}
	if newKey != oldKey || newMirror != oldMirror {
		if err := d.adapter.UpdateRelationship(ctx, rel, newParentKey, newChildKey); err != nil {
			return fail(err)
		}
		renamed := rel
		renamed.Key, renamed.TwoWayKey = newParentKey, newChildKey
		u.add(func(ctx context.Context) error {
			return d.adapter.UpdateRelationship(ctx, renamed, rel.Key, rel.TwoWayKey)
		})
	}

	if current.Options.RelationType == schema.ManyToMany {
		parentCol, childCol := col, related
		if current.Options.Side == schema.SideChild {
			parentCol, childCol = related, col
		}
		junction, err := d.mustCollection(ctx, schema.JunctionID(parentCol.InternalID(), childCol.InternalID()))
		if err != nil {
			return fail(err)
		}
		if err := d.renameJunctionKeys(ctx, u, junction, map[string]string{oldKey: newKey, oldMirror: newMirror}); err != nil {
			return fail(err)
		}
	}

	nextMirror := mirror(col.ID(), next)
	sameCollection := col.ID() == related.ID()
	updated := renameRelationship(col.ReplaceAttribute(oldKey, next), oldKey, newKey)
	if sameCollection {
		updated = renameRelationship(updated.ReplaceAttribute(oldMirror, nextMirror), oldMirror, newMirror)
	}
	if err := d.renameRelationshipIndexes(ctx, u, col, updated, oldKey, newKey); err != nil {
		return fail(err)
	}
	if sameCollection {
		if err := d.renameRelationshipIndexes(ctx, u, col, updated, oldMirror, newMirror); err != nil {
			return fail(err)
		}
	}
	if err := d.saveCollection(ctx, updated); err != nil {
		return fail(err)
	}
	u.add(func(ctx context.Context) error { return d.saveCollection(ctx, col) })

	if !sameCollection {
		target := renameRelationship(related.ReplaceAttribute(oldMirror, nextMirror), oldMirror, newMirror)
		if err := d.renameRelationshipIndexes(ctx, u, related, target, oldMirror, newMirror); err != nil {
			return fail(err)
		}
		if err := d.saveCollection(ctx, target); err != nil {
			return fail(err)
		}
	}
	return nil
}

// renameRelationship points index references at the renamed key and
// renames the relationship's own index.
func renameRelationship(col schema.Collection, oldKey, newKey string) schema.Collection {
	if oldKey == newKey {
		return col
	}
	col = renameInIndexes(col, oldKey, newKey)
	if idx, ok := col.Index(schema.RelationshipIndexKey(oldKey)); ok {
		idx.Key = schema.RelationshipIndexKey(newKey)
		col = col.ReplaceIndex(schema.RelationshipIndexKey(oldKey), idx)
	}
	return col
}

// renameRelationshipIndexes renames the physical index backing a renamed
// relationship key when before holds one.
func (d *Database) renameRelationshipIndexes(
	ctx context.Context, u *undo, before, after schema.Collection, oldKey, newKey string,
) error {
	if oldKey == newKey {
		return nil
	}
	from, to := schema.RelationshipIndexKey(oldKey), schema.RelationshipIndexKey(newKey)
	if _, ok := before.Index(from); !ok {
		return nil
	}
	if _, ok := after.Index(to); !ok {
		return nil
	}
	if err := d.adapter.RenameIndex(ctx, before.ID(), from, to); err != nil {
		return err
	}
	u.add(func(ctx context.Context) error { return d.adapter.RenameIndex(ctx, before.ID(), to, from) })
	return nil
}

// renameJunctionKeys renames junction columns and their indexes.
func (d *Database) renameJunctionKeys(ctx context.Context, u *undo, junction schema.Collection, renames map[string]string) error {
	updated := junction
	for oldKey, newKey := range renames {
		if oldKey == newKey {
			continue
		}
		attr, ok := junction.Attribute(oldKey)
		if !ok {
			continue
		}
		if err := d.adapter.RenameAttribute(ctx, junction.ID(), oldKey, newKey); err != nil {
			return err
		}
		u.add(func(ctx context.Context) error { return d.adapter.RenameAttribute(ctx, junction.ID(), newKey, oldKey) })
		updated = renameRelationship(updated.ReplaceAttribute(oldKey, withKey(attr, newKey)), oldKey, newKey)
		if err := d.renameRelationshipIndexes(ctx, u, junction, updated, oldKey, newKey); err != nil {
			return err
		}
	}
	if err := d.saveCollection(ctx, updated); err != nil {
		return err
	}
	u.add(func(ctx context.Context) error { return d.saveCollection(ctx, junction) })
	return nil
}
