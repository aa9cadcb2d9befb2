package audit

// Metadata is the schema-less context bag attached to every log record.
// Values are limited to what JSON round-trips losslessly: strings, numbers,
// booleans, nested maps and arrays.
type Metadata map[string]interface{}

// Clone returns a deep copy so callers can mutate without aliasing the record.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(t))
		for k, vv := range t {
			nested[k] = cloneValue(vv)
		}
		return nested
	case Metadata:
		return map[string]interface{}(t.Clone())
	case []interface{}:
		list := make([]interface{}, len(t))
		for i, vv := range t {
			list[i] = cloneValue(vv)
		}
		return list
	default:
		return t
	}
}

// GetString returns the string value at key, or "" when absent or not a string.
func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
