package schema

// AttributeType is the storage type of an attribute.
type AttributeType string

// Attribute types.
const (
	TypeString       AttributeType = "string"
	TypeInteger      AttributeType = "integer"
	TypeFloat        AttributeType = "double"
	TypeBoolean      AttributeType = "boolean"
	TypeDatetime     AttributeType = "datetime"
	TypeRelationship AttributeType = "relationship"
)

// IsValid reports whether t is a known attribute type.
func (t AttributeType) IsValid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDatetime, TypeRelationship:
		return true
	}
	return false
}

// IndexType is the kind of an index.
type IndexType string

// Index types.
const (
	IndexKey      IndexType = "key"
	IndexUnique   IndexType = "unique"
	IndexFulltext IndexType = "fulltext"
	IndexSpatial  IndexType = "spatial"
)

// IsValid reports whether t is a known index type.
func (t IndexType) IsValid() bool {
	switch t {
	case IndexKey, IndexUnique, IndexFulltext, IndexSpatial:
		return true
	}
	return false
}

// RelationType is a relationship cardinality.
type RelationType string

// Relationship cardinalities.
const (
	OneToOne   RelationType = "oneToOne"
	OneToMany  RelationType = "oneToMany"
	ManyToOne  RelationType = "manyToOne"
	ManyToMany RelationType = "manyToMany"
)

// IsValid reports whether t is a known cardinality.
func (t RelationType) IsValid() bool {
	switch t {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// Side marks which end of a relationship an attribute describes.
type Side string

// Relationship sides.
const (
	SideParent Side = "parent"
	SideChild  Side = "child"
)

// OnDelete is the delete policy of a relationship.
type OnDelete string

// Delete policies.
const (
	OnDeleteRestrict OnDelete = "restrict"
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteSetNull  OnDelete = "setNull"
)

// IsValid reports whether d is a known policy.
func (d OnDelete) IsValid() bool {
	switch d {
	case OnDeleteRestrict, OnDeleteCascade, OnDeleteSetNull:
		return true
	}
	return false
}

// Engine-independent limits.
const (
	// IntMax is the largest signed 32-bit integer, the boundary between
	// 4- and 8-byte integer columns.
	IntMax = 2147483647
	// KeyLength is the size of id and key columns.
	KeyLength = 255
	// ArrayIndexLength is the prefix length used when indexing array columns.
	ArrayIndexLength = 255
	// RelationMaxDepth caps relationship resolution.
	RelationMaxDepth = 3
	// InsertBatchSize is the default batch size for bulk writes.
	InsertBatchSize = 100
	// DefaultTTLSeconds is the default cache TTL.
	DefaultTTLSeconds = 86400
)

// MetadataCollection is the id of the collection describing all others.
const MetadataCollection = "_metadata"

// Optional carries a value that may be left unset in partial updates.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Set: true} }

// Or returns the value if set, otherwise fallback.
func (o Optional[T]) Or(fallback T) T {
	if o.Set {
		return o.Value
	}
	return fallback
}
