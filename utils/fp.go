package utils

import "strconv"

func Ptr[T any](v T) *T {
	return &v
}

func EmptyOrElse(s string, defaultValue string) string {
	if s == "" {
		return defaultValue
	}
	return s
}

// MustAtoi panics on malformed numbers, config is read once at startup.
func MustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(err)
	}
	return n
}
