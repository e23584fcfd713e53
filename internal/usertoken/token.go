package usertoken

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is the lifetime of an access token.
	DefaultTTL = 60 * time.Minute
	// DefaultLeeway is clock skew tolerance for validation.
	DefaultLeeway = 30 * time.Second
	// DefaultIssuer is the iss claim used when none is configured.
	DefaultIssuer = "securechat-auth"
)

var (
	ErrSecretRequired = errors.New("token secret is required")
	ErrInvalidToken   = errors.New("invalid token")
	ErrSubjectMissing = errors.New("token subject missing")
)

// Config configures both issuing and verification.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// Issued is a freshly minted access token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer mints HS256 bearer tokens whose subject is a username.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Verifier validates tokens minted by an Issuer sharing the same secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewIssuer creates a token issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	return &Issuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	return &Verifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer, leeway: cfg.Leeway}, nil
}

func normalize(cfg Config) (Config, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return cfg, ErrSecretRequired
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultLeeway
	}
	return cfg, nil
}

// TTL reports the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for username.
func (i *Issuer) Issue(username string) (Issued, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Issued{}, ErrSubjectMissing
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: signed, ExpiresAt: exp}, nil
}

// VerifySubject validates token and returns its subject.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrSubjectMissing
	}
	return subject, nil
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}
