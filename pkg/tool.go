package pkg

// Contains check source have target
func Contains[T comparable](slice []T, val T) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// Without return slice copy without val
func Without[T comparable](slice []T, val T) []T {
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if v != val {
			out = append(out, v)
		}
	}
	return out
}
