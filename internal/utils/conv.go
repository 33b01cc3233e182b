package utils

import (
	"strconv"
)

// ParseID parses a positive database id. ok is false for anything else.
func ParseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
