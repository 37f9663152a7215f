package schema

import (
	"strings"

	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
)

// Built-in filter names.
const (
	FilterJSON     = "json"
	FilterDatetime = "datetime"
	FilterEncrypt  = "encrypt"
)

// InternalAttributes are present on every document.
func InternalAttributes() []Attribute {
	return []Attribute{
		{Key: document.KeyID, Type: TypeString, Size: KeyLength, Required: true},
		{Key: document.KeyInternalID, Type: TypeString, Size: KeyLength, Required: true},
		{Key: document.KeyCollection, Type: TypeString, Size: KeyLength, Required: true},
		{Key: document.KeyTenant, Type: TypeInteger, Size: 8, Signed: true},
		{Key: document.KeyCreatedAt, Type: TypeDatetime, Filters: []string{FilterDatetime}},
		{Key: document.KeyUpdatedAt, Type: TypeDatetime, Filters: []string{FilterDatetime}},
		{Key: document.KeyPermissions, Type: TypeString, Size: 1000000, Array: true, Filters: []string{FilterJSON}},
	}
}

// IsInternalKey reports whether key names an internal attribute.
func IsInternalKey(key string) bool { return strings.HasPrefix(key, "$") }

// InternalIndexes are created on every collection table.
func InternalIndexes() []Index {
	return []Index{
		{Key: "_id", Type: IndexUnique, Attributes: []string{"_id"}},
		{Key: "_uid", Type: IndexUnique, Attributes: []string{"_uid"}, Lengths: []int{KeyLength}},
		{Key: "_createdAt", Type: IndexKey, Attributes: []string{"_createdAt"}},
		{Key: "_updatedAt", Type: IndexKey, Attributes: []string{"_updatedAt"}},
		{Key: "_permissions_id", Type: IndexKey, Attributes: []string{"_permissions"}},
		{Key: "_permissions", Type: IndexKey, Attributes: []string{"_permissions"}},
	}
}

// MetadataAttributes are the attributes of the metadata collection.
func MetadataAttributes() []Attribute {
	return []Attribute{
		{Key: "name", Type: TypeString, Size: 256, Required: true},
		{Key: "attributes", Type: TypeString, Size: 1000000, Filters: []string{FilterJSON}},
		{Key: "indexes", Type: TypeString, Size: 1000000, Filters: []string{FilterJSON}},
		{Key: "documentSecurity", Type: TypeBoolean, Required: true},
	}
}

// Metadata returns the self-describing metadata collection.
func Metadata() Collection {
	return NewCollection(
		MetadataCollection,
		MetadataAttributes(),
		nil,
		[]string{permission.Create(permission.Any())},
		true,
	)
}

// JunctionID names the hidden collection backing a many-to-many relationship.
func JunctionID(parentInternalID, childInternalID string) string {
	return "_" + parentInternalID + "_" + childInternalID
}

// RelationshipIndexKey names the index backing a relationship key.
func RelationshipIndexKey(key string) string { return "_index_" + key }
