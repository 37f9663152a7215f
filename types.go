package docbase

import (
	"github.com/kailas-cloud/docbase/internal/auth"
	"github.com/kailas-cloud/docbase/internal/database"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// Core types re-exported from the internal packages.
type (
	Document           = document.Document
	Query              = query.Query
	Collection         = schema.Collection
	Attribute          = schema.Attribute
	Index              = schema.Index
	RelationOptions    = schema.RelationOptions
	AttributeType      = schema.AttributeType
	IndexType          = schema.IndexType
	RelationType       = schema.RelationType
	OnDelete           = schema.OnDelete
	Relationship       = database.Relationship
	RelationshipUpdate = database.RelationshipUpdate
	Role               = permission.Role
)

// Attribute types.
const (
	TypeString       = schema.TypeString
	TypeInteger      = schema.TypeInteger
	TypeFloat        = schema.TypeFloat
	TypeBoolean      = schema.TypeBoolean
	TypeDatetime     = schema.TypeDatetime
	TypeRelationship = schema.TypeRelationship
)

// Index types.
const (
	IndexKey      = schema.IndexKey
	IndexUnique   = schema.IndexUnique
	IndexFulltext = schema.IndexFulltext
)

// Relationship cardinalities and delete policies.
const (
	OneToOne         = schema.OneToOne
	OneToMany        = schema.OneToMany
	ManyToOne        = schema.ManyToOne
	ManyToMany       = schema.ManyToMany
	OnDeleteRestrict = schema.OnDeleteRestrict
	OnDeleteCascade  = schema.OnDeleteCascade
	OnDeleteSetNull  = schema.OnDeleteSetNull
)

// Value filters.
const (
	FilterJSON     = schema.FilterJSON
	FilterDatetime = schema.FilterDatetime
	FilterEncrypt  = schema.FilterEncrypt
)

// Query constructors.
var (
	EqualTo      = query.EqualTo
	NotEqualTo   = query.NotEqualTo
	Less         = query.Less
	LessEqual    = query.LessEqual
	Greater      = query.Greater
	GreaterEqual = query.GreaterEqual
	ContainsAny  = query.ContainsAny
	FullText     = query.FullText
	Null         = query.Null
	NotNull      = query.NotNull
	InRange      = query.InRange
	Prefix       = query.Prefix
	Suffix       = query.Suffix
	AllOf        = query.AllOf
	AnyOf        = query.AnyOf
	Selection    = query.Selection
	Ascending    = query.Ascending
	Descending   = query.Descending
	WithLimit    = query.WithLimit
	WithOffset   = query.WithOffset
	After        = query.After
	Before       = query.Before
	ParseQuery   = query.Parse
)

// Roles and permission strings.
var (
	AnyRole    = permission.Any
	GuestsRole = permission.Guests
	UsersRole  = permission.Users
	UserRole   = permission.User
	TeamRole   = permission.Team
	MemberRole = permission.Member
	LabelRole  = permission.Label
	Read       = permission.Read
	Create     = permission.Create
	Update     = permission.Update
	Delete     = permission.Delete
	Write      = permission.Write
)

// Request scope helpers.
var (
	WithRoles            = auth.WithRoles
	SkipAuthorization    = database.SkipAuthorization
	SkipRelationships    = database.SkipRelationships
	SkipValidation       = database.SkipValidation
	WithRequestTimestamp = database.WithRequestTimestamp
	Silent               = database.Silent
)
