package email

// Variables is an insertion-ordered placeholder→value mapping.
// The zero value is ready to use.
type Variables struct {
	keys   []string
	values map[string]string
}

// NewVariables builds Variables from a plain map. Keys are kept in map
// iteration order, which is fine because rendering never depends on it.
func NewVariables(m map[string]string) Variables {
	var v Variables
	for k, val := range m {
		v.Set(k, val)
	}
	return v
}

// Set adds or replaces a value. Replacing keeps the original position.
func (v *Variables) Set(key, value string) {
	if v.values == nil {
		v.values = make(map[string]string)
	}
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = value
}

// Get returns the value for key.
func (v Variables) Get(key string) (string, bool) {
	val, ok := v.values[key]
	return val, ok
}

// Keys returns keys in insertion order.
func (v Variables) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len returns the number of entries.
func (v Variables) Len() int { return len(v.keys) }

// Merge copies every entry of other into v, overriding existing keys.
func (v *Variables) Merge(other Variables) {
	for _, k := range other.keys {
		v.Set(k, other.values[k])
	}
}

// Map returns a copy as a plain map, used for JSON responses.
func (v Variables) Map() map[string]string {
	out := make(map[string]string, len(v.keys))
	for _, k := range v.keys {
		out[k] = v.values[k]
	}
	return out
}
