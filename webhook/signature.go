package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadSignature rejects a delivery whose signature header does not verify
// against the shared webhook secret.
var ErrBadSignature = errors.New("webhook: bad signature")

// SignatureHeader carries a compact JWT signed by the processor; its
// body_sha256 claim must match the request body.
const SignatureHeader = "X-Processor-Signature"

// VerifySignature validates the signature token against the raw request body.
func VerifySignature(token string, body []byte, secret []byte) error {
	if token == "" {
		return fmt.Errorf("%w: missing header", ErrBadSignature)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("%w: unexpected claims", ErrBadSignature)
	}
	claimed, _ := claims["body_sha256"].(string)
	sum := sha256.Sum256(body)
	if claimed == "" || claimed != hex.EncodeToString(sum[:]) {
		return fmt.Errorf("%w: body digest mismatch", ErrBadSignature)
	}
	return nil
}

// Sign produces the signature token for a body. Test and fake-processor use.
func Sign(body []byte, secret []byte) (string, error) {
	sum := sha256.Sum256(body)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"body_sha256": hex.EncodeToString(sum[:]),
	})
	return token.SignedString(secret)
}
