package inbound

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"strings"
)

// Verifier authenticates a raw provider request before it is mapped.
type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

type VerifierFunc func(ctx context.Context, req Request) error

func (f VerifierFunc) Verify(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// HeaderHMACVerifier checks an HMAC of the raw body carried in a header.
type HeaderHMACVerifier struct {
	Header    string
	Prefix    string
	Secret    string
	Algorithm string // sha256 | sha1
	Encoding  string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req Request) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return fmt.Errorf("inbound: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("inbound: signature secret is required")
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("inbound: signature value is required")
	}

	mac := hmac.New(hashFor(v.Algorithm), []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("inbound: decode base64 signature: %w", err)
		}
	default:
		decoded, err = hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("inbound: decode hex signature: %w", err)
		}
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("inbound: signature verification failed")
	}
	return nil
}

// HeaderTokenVerifier compares a shared token sent in a header.
type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req Request) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return fmt.Errorf("inbound: verification token is required")
	}
	actual := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if actual == "" {
		return fmt.Errorf("inbound: %s verification header is required", strings.TrimSpace(v.Header))
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("inbound: verification token mismatch")
	}
	return nil
}

// FormFieldTokenVerifier compares a shared secret posted as a field of a
// form-encoded body, as Wufoo does with HandshakeKey.
type FormFieldTokenVerifier struct {
	Field  string
	Secret string
}

func (v FormFieldTokenVerifier) Verify(_ context.Context, req Request) error {
	expected := strings.TrimSpace(v.Secret)
	if expected == "" {
		return fmt.Errorf("inbound: handshake secret is required")
	}
	values, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return fmt.Errorf("inbound: parse form body: %w", err)
	}
	actual := strings.TrimSpace(values.Get(v.Field))
	if actual == "" {
		return fmt.Errorf("inbound: %s field is required", strings.TrimSpace(v.Field))
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("inbound: %s mismatch", strings.TrimSpace(v.Field))
	}
	return nil
}

func hashFor(algorithm string) func() hash.Hash {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "sha1":
		return sha1.New
	default:
		return sha256.New
	}
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
