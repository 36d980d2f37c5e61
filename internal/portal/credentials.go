package portal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// DefaultAdminUsername is offered when no administrator is configured yet.
const DefaultAdminUsername = "portal-admin"

// Credential is the auth block sent with a save.
type Credential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

// HashPassword returns hex(sha256(salt + password)).
func HashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// GenerateSalt returns 16 random bytes, hex encoded.
func GenerateSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewAdministrator creates a descriptor with a fresh salt.
func NewAdministrator(username, password string) (Administrator, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return Administrator{}, err
	}
	return Administrator{
		Username:     username,
		PasswordHash: HashPassword(salt, password),
		Salt:         salt,
	}, nil
}

// Credential derives the save credential for password, using a's salt.
func (a Administrator) Credential(password string) Credential {
	return Credential{Username: a.Username, PasswordHash: HashPassword(a.Salt, password)}
}

// Verify compares c against a in constant time.
func (a Administrator) Verify(c Credential) bool {
	userOK := subtle.ConstantTimeCompare([]byte(a.Username), []byte(c.Username)) == 1
	hashOK := subtle.ConstantTimeCompare([]byte(a.PasswordHash), []byte(c.PasswordHash)) == 1
	return userOK && hashOK
}
