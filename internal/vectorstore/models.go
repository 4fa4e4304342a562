package vectorstore

import (
	"fmt"
	"strconv"
)

// Document represents one evidence record in the index.
type Document struct {
	// ID is the stable document identifier (derived from the source trade).
	ID string

	// Content is the canonical text rendering that was embedded.
	Content string

	// Metadata holds the filterable trade fields and the learning fields.
	Metadata map[string]any
}

// SearchResult is one similarity-search hit.
type SearchResult struct {
	ID      string
	Content string

	// Score is the raw similarity in [0,1], higher is more similar.
	Score float32

	Metadata map[string]any
}

// RangeCondition constrains a numeric metadata field to [Min, Max].
type RangeCondition struct {
	Key string
	Min float64
	Max float64
}

// Filter is a conjunction of exact matches and numeric range constraints.
//
// Qdrant evaluates both natively. chromem's where-filter is equality-only,
// so ChromemIndex pushes Match down and applies Ranges post-query.
type Filter struct {
	Match  map[string]string
	Ranges []RangeCondition
}

// Matches reports whether the given metadata satisfies every condition.
func (f *Filter) Matches(metadata map[string]any) bool {
	if f == nil {
		return true
	}
	for key, want := range f.Match {
		got, ok := MetadataString(metadata, key)
		if !ok || got != want {
			return false
		}
	}
	for _, r := range f.Ranges {
		v, ok := MetadataFloat(metadata, r.Key)
		if !ok || v < r.Min || v > r.Max {
			return false
		}
	}
	return true
}

// MetadataString extracts a string value from metadata.
func MetadataString(metadata map[string]any, key string) (string, bool) {
	v, ok := metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MetadataFloat extracts a numeric value from metadata. String-encoded
// numbers are accepted because chromem persists all metadata as strings.
func MetadataFloat(metadata map[string]any, key string) (float64, bool) {
	v, ok := metadata[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// MetadataInt extracts an integer value from metadata.
func MetadataInt(metadata map[string]any, key string) (int64, bool) {
	f, ok := MetadataFloat(metadata, key)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// convertMetadataToString flattens metadata for engines that store strings.
func convertMetadataToString(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}
	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = strconv.Itoa(val)
		case int64:
			result[k] = strconv.FormatInt(val, 10)
		case float64:
			result[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			result[k] = strconv.FormatBool(val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// convertMetadataFromString widens a string metadata map.
func convertMetadataFromString(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}
	result := make(map[string]any, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}
