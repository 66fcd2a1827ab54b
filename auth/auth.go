package auth

import (
	"encoding/base64"
	"net/http"

	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// Credentials are the optional broker username and password.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Header returns the HTTP basic authorization header used on websocket upgrades.
// It is nil when no credentials are set.
func (c Credentials) Header() http.Header {
	if c.Empty() {
		return nil
	}
	h := make(http.Header)
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	h.Set("Authorization", "Basic "+token)
	return h
}

// SASL returns the kafka SASL/PLAIN mechanism, or nil without credentials.
func (c Credentials) SASL() sasl.Mechanism {
	if c.Empty() {
		return nil
	}
	return plain.Mechanism{
		Username: c.Username,
		Password: c.Password,
	}
}

// String never prints the password.
func (c Credentials) String() string {
	if c.Empty() {
		return "<anonymous>"
	}
	return c.Username + ":***"
}
