package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const Realm = "NetMaster"

// Authenticator checks HTTP Basic credentials against one configured user.
type Authenticator struct {
	username []byte
	hash     []byte
}

func New(username, passwordHash string) (*Authenticator, error) {
	if username == "" || passwordHash == "" {
		return nil, errors.New("auth: username and password hash are required")
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("auth: invalid bcrypt hash: %w", err)
	}
	return &Authenticator{username: []byte(username), hash: []byte(passwordHash)}, nil
}

// Check always runs the bcrypt comparison so a wrong username costs the
// same as a wrong password.
func (a *Authenticator) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), a.username) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	return userOK && passOK
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: empty password")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
