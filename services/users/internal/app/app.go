package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"

	"securechat/pkg/auth"
	"securechat/pkg/domain"
	"securechat/pkg/store"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Names that collide with fixed routes under /users/.
var reservedUsernames = []string{"create", "validate"}

// Config holds runtime dependencies for the identity store.
type Config struct {
	Store store.UserStore
	// KeyBits sizes generated RSA keys. Zero means auth.KeyBits.
	KeyBits int
	// GenerateKeys overrides key generation, mainly in tests.
	GenerateKeys func(bits int) (auth.KeyPair, error)
}

// App owns account lifecycle and credential checks.
type App struct {
	store        store.UserStore
	keyBits      int
	generateKeys func(bits int) (auth.KeyPair, error)
}

// NewUser is the registration payload.
type NewUser struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Update carries optional profile changes; nil fields are left alone.
type Update struct {
	Name     *string   `json:"name"`
	Email    *string   `json:"email"`
	Password *string   `json:"password"`
	Contacts *[]string `json:"contacts"`
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("user store is required")
	}
	bits := cfg.KeyBits
	if bits <= 0 {
		bits = auth.KeyBits
	}
	gen := cfg.GenerateKeys
	if gen == nil {
		gen = auth.GenerateKeyPair
	}
	return &App{store: cfg.Store, keyBits: bits, generateKeys: gen}, nil
}

// CreateUser registers an account with a fresh key pair.
func (a *App) CreateUser(ctx context.Context, in NewUser) (domain.Profile, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return domain.Profile{}, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return domain.Profile{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.Profile{}, err
	}
	keys, err := a.generateKeys(a.keyBits)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("generate keys: %w", err)
	}
	user := domain.User{
		Username:     username,
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hash,
		PublicKey:    keys.PublicPEM,
		PrivateKey:   keys.PrivatePEM,
		Contacts:     []string{},
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return domain.Profile{}, mapStoreError(err)
	}
	return domain.ProfileOf(user), nil
}

// GetProfile returns the public view of username.
func (a *App) GetProfile(ctx context.Context, username string) (domain.Profile, error) {
	user, err := a.store.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.Profile{}, mapStoreError(err)
	}
	return domain.ProfileOf(user), nil
}

// UpdateUser applies the non-nil fields of in.
func (a *App) UpdateUser(ctx context.Context, username string, in Update) (domain.Profile, error) {
	user, err := a.store.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.Profile{}, mapStoreError(err)
	}
	if in.Name != nil {
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return domain.Profile{}, err
		}
		user.Email = email
	}
	if in.Password != nil {
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return domain.Profile{}, err
		}
		user.PasswordHash = hash
	}
	if in.Contacts != nil {
		user.Contacts = normalizeContacts(*in.Contacts, user.Username)
	}
	if err := a.store.UpdateUser(ctx, user); err != nil {
		return domain.Profile{}, mapStoreError(err)
	}
	return domain.ProfileOf(user), nil
}

func (a *App) DeleteUser(ctx context.Context, username string) error {
	if err := a.store.DeleteUser(ctx, strings.TrimSpace(username)); err != nil {
		return mapStoreError(err)
	}
	return nil
}

// Validate checks a password and hands the owner their private key.
func (a *App) Validate(ctx context.Context, username, password string) (domain.Credentials, error) {
	user, err := a.store.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Credentials{}, ErrInvalidCredentials
		}
		return domain.Credentials{}, mapStoreError(err)
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.Credentials{}, ErrInvalidCredentials
	}
	return domain.Credentials{OK: true, User: domain.ProfileOf(user), PrivateKey: user.PrivateKey}, nil
}

func normalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", ErrUsernameRequired
	}
	if !usernamePattern.MatchString(username) || slices.Contains(reservedUsernames, strings.ToLower(username)) {
		return "", ErrInvalidUsername
	}
	return username, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// normalizeContacts trims, drops blanks and self references, and dedupes
// while keeping first-seen order.
func normalizeContacts(in []string, owner string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || c == owner || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, store.ErrUsernameTaken):
		return ErrUsernameTaken
	case errors.Is(err, store.ErrEmailTaken):
		return ErrEmailTaken
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
