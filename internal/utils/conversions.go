package utils

// ToStringSlice converts a decoded JSON array (or a []string) into a []string,
// dropping any non-string entries.
func ToStringSlice(v any) []string {
	switch slice := v.(type) {
	case []string:
		return append([]string(nil), slice...)
	case []any:
		stringSlice := make([]string, 0, len(slice))
		for _, item := range slice {
			if s, ok := item.(string); ok {
				stringSlice = append(stringSlice, s)
			}
		}
		return stringSlice
	default:
		return []string{}
	}
}
