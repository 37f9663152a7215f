package validator

import (
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/datetime"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// MaxKeyLength is the longest user-supplied id or key.
const MaxKeyLength = 36

var keyRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateKey checks a user-supplied id or attribute key.
func ValidateKey(key string) error {
	if key == "" {
		return domain.Structure("key is required")
	}
	if len(key) > MaxKeyLength {
		return domain.Structure("key %q is longer than %d characters", key, MaxKeyLength)
	}
	if !keyRegex.MatchString(key) {
		return domain.Structure("key %q must contain only a-z, A-Z, 0-9, period, hyphen and underscore and not start with a special character", key)
	}
	return nil
}

// ValidateDocumentID accepts a valid key or the unique() placeholder.
func ValidateDocumentID(id string) error {
	if id == document.UniquePlaceholder {
		return nil
	}
	return ValidateKey(id)
}

// Structure validates documents against a collection schema.
type Structure struct {
	collection schema.Collection
	formats    *Formats
}

// NewStructure creates a structure validator.
func NewStructure(collection schema.Collection, formats *Formats) *Structure {
	return &Structure{collection: collection, formats: formats}
}

// Validate checks that doc declares only known attributes, carries every
// required attribute and that each value matches its type, size and format.
func (s *Structure) Validate(doc document.Document) error {
	if doc.IsEmpty() {
		return domain.Structure("document is empty")
	}
	if id := doc.ID(); id != "" {
		if err := ValidateKey(id); err != nil {
			return err
		}
	}

	known := make(map[string]schema.Attribute)
	for _, a := range schema.InternalAttributes() {
		known[a.Key] = a
	}
	for _, a := range s.collection.Attributes() {
		known[a.Key] = a
	}

	for key := range doc {
		if _, ok := known[key]; !ok {
			return domain.Structure("unknown attribute %q", key)
		}
	}

	for _, attr := range s.collection.Attributes() {
		value, present := doc[attr.Key]
		if !present || value == nil {
			if attr.Required {
				return domain.Structure("missing required attribute %q", attr.Key)
			}
			continue
		}
		if attr.IsRelationship() {
			continue
		}
		if err := s.validateValue(attr, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Structure) validateValue(attr schema.Attribute, value any) error {
	if attr.Array {
		list, ok := value.([]any)
		if !ok {
			return domain.Structure("attribute %q must be an array", attr.Key)
		}
		for _, item := range list {
			if item == nil {
				continue
			}
			if err := s.validateScalar(attr, item); err != nil {
				return err
			}
		}
		return nil
	}
	return s.validateScalar(attr, value)
}

func (s *Structure) validateScalar(attr schema.Attribute, value any) error {
	if err := CheckType(attr, value); err != nil {
		return err
	}
	if s.formats == nil {
		return nil
	}
	if v, ok := s.formats.For(attr); ok {
		if err := v.Validate(value); err != nil {
			return domain.Structure("attribute %q %v", attr.Key, err)
		}
	}
	return nil
}

// CheckType verifies that a scalar value matches the attribute type and size.
func CheckType(attr schema.Attribute, value any) error {
	switch attr.Type {
	case schema.TypeString:
		str, ok := value.(string)
		if !ok {
			return domain.Structure("attribute %q must be a string", attr.Key)
		}
		if attr.Size > 0 && utf8.RuneCountInString(str) > attr.Size {
			return domain.Structure("attribute %q must be at most %d characters", attr.Key, attr.Size)
		}
	case schema.TypeInteger:
		n, ok := value.(int64)
		if !ok {
			f, isFloat := value.(float64)
			if !isFloat || f != math.Trunc(f) {
				return domain.Structure("attribute %q must be an integer", attr.Key)
			}
			n = int64(f)
		}
		lo, hi := IntegerRange(attr)
		if n < lo || n > hi {
			return domain.Structure("attribute %q must be between %d and %d", attr.Key, lo, hi)
		}
	case schema.TypeFloat:
		switch value.(type) {
		case float64, int64:
		default:
			return domain.Structure("attribute %q must be a number", attr.Key)
		}
	case schema.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return domain.Structure("attribute %q must be a boolean", attr.Key)
		}
	case schema.TypeDatetime:
		if _, err := datetime.Parse(value); err != nil {
			return domain.Structure("attribute %q must be a valid datetime", attr.Key)
		}
	case schema.TypeRelationship:
	default:
		return domain.Structure("attribute %q has unknown type %q", attr.Key, attr.Type)
	}
	return nil
}

// IntegerRange returns the accepted bounds for an integer attribute.
func IntegerRange(attr schema.Attribute) (int64, int64) {
	wide := attr.Size >= 8
	switch {
	case wide && attr.Signed:
		return math.MinInt64, math.MaxInt64
	case wide:
		return 0, math.MaxInt64
	case attr.Signed:
		return -schema.IntMax - 1, schema.IntMax
	default:
		return 0, 2*schema.IntMax + 1
	}
}

// ValidateDefault checks a default value against the attribute type.
// Required and array attributes cannot have defaults.
func ValidateDefault(attr schema.Attribute) error {
	if attr.Default == nil {
		return nil
	}
	if attr.Required {
		return domain.Structure("cannot set a default value for required attribute %q", attr.Key)
	}
	if attr.Array {
		return domain.Structure("cannot set a default value for array attribute %q", attr.Key)
	}
	if attr.Type == schema.TypeRelationship {
		return domain.Structure("relationship attribute %q cannot have a default", attr.Key)
	}
	switch attr.Type {
	case schema.TypeString, schema.TypeDatetime:
		if _, ok := attr.Default.(string); !ok {
			return domain.Structure("default of attribute %q must be a string", attr.Key)
		}
	case schema.TypeInteger:
		if _, ok := attr.Default.(int64); !ok {
			return domain.Structure("default of attribute %q must be an integer", attr.Key)
		}
	case schema.TypeBoolean:
		if _, ok := attr.Default.(bool); !ok {
			return domain.Structure("default of attribute %q must be a boolean", attr.Key)
		}
	}
	return CheckType(attr, attr.Default)
}
