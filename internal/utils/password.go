package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret returns the bcrypt hash of a client secret using the given cost.
// bcrypt salts every hash, so equal secrets never share a stored value.
func HashSecret(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifySecret safely compares a bcrypt hash and a plain secret.
func VerifySecret(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
