// Package password wraps bcrypt hashing and verification for account
// credentials. Plaintext passwords never leave this package as anything
// but a digest.
package password

import "golang.org/x/crypto/bcrypt"

// Hash derives a salted bcrypt digest from the plaintext.
func Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches the stored digest.
// bcrypt's comparison is constant-time over the derived key.
func Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
