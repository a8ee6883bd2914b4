// Package shared holds small helpers used across the client.
package shared

// WipeByteArray overwrites b with zeros. Used to drop access tokens read
// from the terminal once they have been converted.
//
// If the slice is nil, the function does nothing.
func WipeByteArray(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}
