package validator

import (
	"strings"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

var indexableInternal = map[string]schema.Attribute{
	document.KeyID:        {Key: document.KeyID, Type: schema.TypeString, Size: schema.KeyLength},
	document.KeyCreatedAt: {Key: document.KeyCreatedAt, Type: schema.TypeDatetime},
	document.KeyUpdatedAt: {Key: document.KeyUpdatedAt, Type: schema.TypeDatetime},
}

// ValidateIndex checks an index against the attributes it covers.
// maxLength caps the summed key length; 0 disables the check.
func ValidateIndex(idx schema.Index, attrs []schema.Attribute, maxLength int) error {
	if !idx.Type.IsValid() {
		return domain.Structure("unknown index type %q", idx.Type)
	}
	if len(idx.Attributes) == 0 {
		return domain.Structure("index %q has no attributes", idx.Key)
	}
	if len(idx.Lengths) > len(idx.Attributes) || len(idx.Orders) > len(idx.Attributes) {
		return domain.Structure("index %q has more lengths or orders than attributes", idx.Key)
	}

	byKey := make(map[string]schema.Attribute, len(attrs))
	for _, a := range attrs {
		byKey[strings.ToLower(a.Key)] = a
	}

	seen := make(map[string]bool, len(idx.Attributes))
	resolved := make([]schema.Attribute, 0, len(idx.Attributes))
	for _, key := range idx.Attributes {
		lower := strings.ToLower(key)
		if seen[lower] {
			return domain.Structure("index %q lists attribute %q twice", idx.Key, key)
		}
		seen[lower] = true

		a, ok := byKey[lower]
		if !ok {
			a, ok = indexableInternal[key]
		}
		if !ok {
			return domain.Structure("index %q references unknown attribute %q", idx.Key, key)
		}
		if a.IsRelationship() {
			return domain.Structure("index %q cannot cover relationship attribute %q", idx.Key, key)
		}
		resolved = append(resolved, a)
	}

	for i, o := range idx.Orders {
		if o != "" && o != "ASC" && o != "DESC" {
			return domain.Structure("index %q has invalid order %q at %d", idx.Key, o, i)
		}
	}

	switch idx.Type {
	case schema.IndexFulltext:
		for _, a := range resolved {
			if a.Type != schema.TypeString {
				return domain.Structure("fulltext index %q requires string attributes, %q is %s", idx.Key, a.Key, a.Type)
			}
		}
		return nil
	case schema.IndexSpatial:
		return domain.Structure("spatial index %q is not supported", idx.Key)
	}

	arrays := 0
	for _, a := range resolved {
		if a.Array {
			arrays++
		}
	}
	if arrays > 0 {
		if idx.Type != schema.IndexKey {
			return domain.Structure("index %q on array attributes must be a key index", idx.Key)
		}
		if arrays > 1 {
			return domain.Structure("index %q may cover at most one array attribute", idx.Key)
		}
	}

	return checkIndexLength(idx, resolved, maxLength)
}

func checkIndexLength(idx schema.Index, attrs []schema.Attribute, maxLength int) error {
	total := 0
	for i, a := range attrs {
		var size, length int
		switch a.Type {
		case schema.TypeString:
			size = a.Size
			length = size
			if i < len(idx.Lengths) && idx.Lengths[i] > 0 {
				length = idx.Lengths[i]
			}
		case schema.TypeFloat:
			size, length = 2, 2
		default:
			size, length = 1, 1
		}
		if a.Array {
			size, length = schema.ArrayIndexLength, schema.ArrayIndexLength
		}
		if length > size {
			return domain.Structure("index %q length for %q is longer than the attribute size", idx.Key, a.Key)
		}
		total += length
	}
	if maxLength > 0 && total > maxLength {
		return domain.NewLimitError("index length of "+idx.Key, int64(maxLength))
	}
	return nil
}
