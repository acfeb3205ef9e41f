package domain

import "github.com/samber/lo"

// Page returns the window items[offset:offset+pageSize] of an already aggregated list.
// pageSize <= 0 means no cap; an offset past the end yields an empty, non-nil slice.
func Page[T any](items []T, pageSize, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	length := len(items) - offset
	if pageSize > 0 && pageSize < length {
		length = pageSize
	}
	return lo.Subset(items, offset, uint(length))
}
