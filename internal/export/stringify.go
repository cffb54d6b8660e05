package export

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stringify renders a BSON value as text. Scalars use their natural form,
// ObjectIDs their hex, dates RFC 3339, and documents and arrays JSON. The
// second result is false for null or missing values.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return "", false
	case string:
		return t, true
	case primitive.ObjectID:
		return t.Hex(), true
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano), true
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	case primitive.Decimal128:
		return t.String(), true
	case bson.M, bson.D, bson.A, map[string]any, []any:
		data, err := json.Marshal(plain(t))
		if err != nil {
			return fmt.Sprint(t), true
		}
		return string(data), true
	default:
		return fmt.Sprint(t), true
	}
}

// plain converts nested BSON containers into JSON-friendly values.
func plain(v any) any {
	switch t := v.(type) {
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case map[string]any:
		return plain(bson.M(t))
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case []any:
		return plain(bson.A(t))
	case nil, primitive.Null, primitive.Undefined:
		return nil
	case primitive.ObjectID, primitive.DateTime, time.Time, primitive.Decimal128:
		s, _ := Stringify(t)
		return s
	default:
		return t
	}
}
