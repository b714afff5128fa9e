package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
)

const (
	HeaderAPISecret = "apisecret"
	HeaderSignature = "X-Signature"
)

// SharedSecretMiddleware protects internal routes. A request passes with the
// secret itself in the apisecret header or as a bearer token, or with an
// X-Signature header holding the hex HMAC-SHA256 of the body.
func SharedSecretMiddleware(secret string) fiber.Handler {
	secret = strings.TrimSpace(secret)
	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Error("[Auth] API_SECRET is not configured, rejecting internal request")
			return unauthorized(c, "Internal API is disabled")
		}
		if provided := extractSecret(c); provided != "" {
			if hmac.Equal([]byte(provided), []byte(secret)) {
				return c.Next()
			}
			return unauthorized(c, "Invalid secret")
		}
		if sig := strings.TrimSpace(c.Get(HeaderSignature)); sig != "" {
			if VerifySignature(c.Body(), sig, secret) {
				return c.Next()
			}
			return unauthorized(c, "Invalid signature")
		}
		return unauthorized(c, "Missing secret")
	}
}

// SharedSecretFromEnv reads the secret from API_SECRET.
func SharedSecretFromEnv() fiber.Handler {
	return SharedSecretMiddleware(env.GetEnv("API_SECRET", ""))
}

// VerifySignature checks a hex encoded HMAC-SHA256 of payload.
func VerifySignature(payload []byte, signature, secret string) bool {
	decoded, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// Sign returns the X-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func extractSecret(c *fiber.Ctx) string {
	if s := strings.TrimSpace(c.Get(HeaderAPISecret)); s != "" {
		return s
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": constants.ErrUnauthorized, "message": message})
}
