package oauthflow

import (
	"crypto/rand"
	"encoding/base64"
)

// NewState generates an unguessable correlation value for the state
// parameter.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
