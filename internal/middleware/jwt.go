package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/gofiber/fiber/v3"
)

// userLocal is the Fiber locals key holding the caller's *domain.UserContext.
const userLocal = "user"

// Token validation errors. Their messages are returned to strict-mode callers.
var (
	ErrMissingToken   = errors.New("missing authorization")
	ErrMalformedToken = errors.New("invalid token format")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenIssuer    = errors.New("invalid token issuer")
	ErrNoSubject      = errors.New("token subject is required")
)

// JWTConfig holds JWT middleware configuration.
type JWTConfig struct {
	Secret    string
	Issuer    string
	ExpiresIn time.Duration

	// Optional lets requests without a valid token through with no UserContext,
	// leaving the handler to decide how to reject them.
	Optional bool
}

// Claims is the token payload. Subject is the chat owner id.
type Claims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

var hs256Header = tokenHeader{Alg: "HS256", Typ: "JWT"}

// JWTMiddleware authenticates the bearer token (header, or ?token= for
// EventSource clients) and stores the caller in the request locals.
func JWTMiddleware(cfg JWTConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		claims, err := authenticate(c, cfg)
		if err != nil {
			if cfg.Optional {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}

		c.Locals(userLocal, claims.user())
		return c.Next()
	}
}

// RequireRole rejects callers whose token does not carry role. It must run after JWTMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c fiber.Ctx) error {
		uc := GetUserContext(c)
		if uc == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": ErrMissingToken.Error()})
		}
		if uc.Role != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": role + " role required"})
		}
		return c.Next()
	}
}

// GetUserContext returns the authenticated caller, or nil.
func GetUserContext(c fiber.Ctx) *domain.UserContext {
	u, _ := c.Locals(userLocal).(*domain.UserContext)
	return u
}

func authenticate(c fiber.Ctx, cfg JWTConfig) (*Claims, error) {
	token := bearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	return ParseJWT(token, cfg)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (cl *Claims) user() *domain.UserContext {
	return &domain.UserContext{
		UserID: cl.Subject,
		Email:  cl.Email,
		Name:   cl.Name,
		Role:   cl.Role,
	}
}

// GenerateJWT signs an HS256 token for user, valid for cfg.ExpiresIn.
func GenerateJWT(user *domain.UserContext, cfg JWTConfig) (string, error) {
	if user == nil || user.UserID == "" {
		return "", ErrNoSubject
	}
	now := time.Now()

	header, err := encodeSegment(hs256Header)
	if err != nil {
		return "", fmt.Errorf("encode token header: %w", err)
	}
	payload, err := encodeSegment(Claims{
		Subject:   user.UserID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Issuer:    cfg.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(cfg.ExpiresIn).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encode token claims: %w", err)
	}

	signed := header + "." + payload
	return signed + "." + signHS256(signed, cfg.Secret), nil
}

// ParseJWT verifies the signature, algorithm, expiry, issuer and subject of token.
func ParseJWT(token string, cfg JWTConfig) (*Claims, error) {
	header, payload, sig, ok := splitToken(token)
	if !ok {
		return nil, ErrMalformedToken
	}

	if !hmac.Equal([]byte(sig), []byte(signHS256(header+"."+payload, cfg.Secret))) {
		return nil, ErrTokenSignature
	}

	var h tokenHeader
	if err := decodeSegment(header, &h); err != nil || h.Alg != hs256Header.Alg {
		return nil, ErrMalformedToken
	}

	var claims Claims
	if err := decodeSegment(payload, &claims); err != nil {
		return nil, ErrMalformedToken
	}

	switch {
	case time.Now().Unix() > claims.ExpiresAt:
		return nil, ErrTokenExpired
	case claims.Issuer != cfg.Issuer:
		return nil, ErrTokenIssuer
	case claims.Subject == "":
		return nil, ErrNoSubject
	}
	return &claims, nil
}

func splitToken(token string) (header, payload, sig string, ok bool) {
	header, rest, ok := strings.Cut(token, ".")
	if !ok {
		return "", "", "", false
	}
	payload, sig, ok = strings.Cut(rest, ".")
	if !ok || strings.Contains(sig, ".") {
		return "", "", "", false
	}
	return header, payload, sig, true
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSegment(seg string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func signHS256(input, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
