package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret derives the bcrypt hash of a shared secret, for
// provisioning ADMIN_KEY_HASH without ever storing the plaintext.
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(b), err
}

// CheckSecret compares a presented secret against its stored hash.
func CheckSecret(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}
