package util

import "crypto/rand"

const shareCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ShareCodeLength is the length of generated form share codes.
const ShareCodeLength = 6

// NewShareCode generates a short human-typeable code for joining a form.
// Uniqueness is not guaranteed here; callers retry on collision.
func NewShareCode() string {
	bytes := make([]byte, ShareCodeLength)
	_, _ = rand.Read(bytes)
	code := make([]byte, ShareCodeLength)
	for i, b := range bytes {
		code[i] = shareCodeAlphabet[int(b)%len(shareCodeAlphabet)]
	}
	return string(code)
}
