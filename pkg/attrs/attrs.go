// Package attrs names the structured log keys shared by allocation code and
// reads values back out of slog-style key/value lists.
package attrs

const (
	AllocationID = "allocation_id"
	OrganID      = "organ_id"
	RequestID    = "request_id"
	UserID       = "user_id"
	Hash         = "hash"
)

// String returns the string value paired with key in a [k1, v1, k2, v2, ...]
// list. The last pair wins so appended values override earlier ones.
func String(kvs []any, key string) (string, bool) {
	var (
		out   string
		found bool
	)
	for i := 0; i+1 < len(kvs); i += 2 {
		if k, ok := kvs[i].(string); !ok || k != key {
			continue
		}
		if v, ok := kvs[i+1].(string); ok {
			out, found = v, true
		}
	}
	return out, found
}
