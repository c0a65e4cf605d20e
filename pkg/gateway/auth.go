package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// SecretHeader carries the shared secret on HTTP requests.
const SecretHeader = "X-Briefing-Secret"

const (
	// maxAuthAttempts is how many bad signatures a websocket client may send.
	maxAuthAttempts = 3
	challengeTTL    = 30 * time.Second
)

// AuthHandler checks the optional shared secret. HTTP requests present it
// in SecretHeader; websocket clients answer an HMAC challenge instead.
type AuthHandler struct {
	secret []byte
	now    func() time.Time
}

// NewAuthHandler creates a new authentication handler. An empty secret
// disables authentication.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{secret: []byte(sharedSecret), now: time.Now}
}

// Enabled reports whether a secret is configured.
func (a *AuthHandler) Enabled() bool {
	return len(a.secret) > 0
}

// CheckSecret compares a presented secret in constant time.
func (a *AuthHandler) CheckSecret(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare(a.secret, []byte(presented)) == 1
}

// GenerateChallenge returns 32 random bytes, hex encoded.
func (a *AuthHandler) GenerateChallenge() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

// IssueChallenge gives client a fresh challenge that expires after
// challengeTTL and returns the notice announcing it.
func (a *AuthHandler) IssueChallenge(client *Client) (Notice, error) {
	challenge, err := a.GenerateChallenge()
	if err != nil {
		return Notice{}, err
	}
	client.Challenge = challenge
	client.ChallengeExpires = a.now().Add(challengeTTL)
	client.State = StateAuthenticating
	return Notice{Type: "auth.challenge", Challenge: challenge}, nil
}

// Sign returns the hex HMAC-SHA256 of challenge under the shared secret.
func (a *AuthHandler) Sign(challenge string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is Sign(challenge).
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	return hmac.Equal([]byte(a.Sign(challenge)), []byte(signature))
}

// HandleAuthResponse checks a client's answer to its challenge. An expired
// challenge counts as a failed attempt and is replaced by a new one.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) Notice {
	switch {
	case client.Challenge == "":
		return Notice{Type: "auth.failure", Message: "No challenge found"}

	case !client.ChallengeExpires.IsZero() && a.now().After(client.ChallengeExpires):
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			client.Challenge = ""
			return Notice{Type: "auth.failure", Message: "Too many failed attempts"}
		}
		notice, err := a.IssueChallenge(client)
		if err != nil {
			client.Challenge = ""
			return Notice{Type: "auth.failure", Message: "Challenge expired"}
		}
		notice.Message = "Challenge expired"
		return notice

	case !a.VerifySignature(client.Challenge, signature):
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return Notice{Type: "auth.failure", Message: "Too many failed attempts"}
		}
		return Notice{Type: "auth.failure", Message: "Invalid signature"}
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""
	client.ChallengeExpires = time.Time{}
	return Notice{Type: "auth.success"}
}
