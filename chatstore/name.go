package chatstore

import "strings"

// reserved characters: field, set and key separators of the file and wire formats.
const reservedNameChars = "\t\r\n,|;\\"

// ValidName reports whether s can be used as a user or group name.
func ValidName(s string) bool {
	if s == "" || strings.HasPrefix(s, "[") {
		return false
	}
	return !strings.ContainsAny(s, reservedNameChars)
}
