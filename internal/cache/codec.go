package cache

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kailas-cloud/docbase/internal/domain/document"
)

// Encode serializes a document to BSON.
func Encode(doc document.Document) ([]byte, error) {
	if doc == nil {
		doc = document.Document{}
	}
	data, err := bson.Marshal(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Decode parses BSON produced by Encode back into a document with
// canonical value types.
func Decode(data []byte) (document.Document, error) {
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return toDocument(m), nil
}

func toDocument(m map[string]any) document.Document {
	doc := make(document.Document, len(m))
	for k, v := range m {
		doc[k] = fromBSON(v)
	}
	return doc
}

func fromBSON(v any) any {
	switch t := v.(type) {
	case primitive.M:
		return toDocument(t)
	case map[string]any:
		return toDocument(t)
	case primitive.D:
		return toDocument(t.Map())
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromBSON(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromBSON(item)
		}
		return out
	case int32:
		return int64(t)
	}
	return v
}
