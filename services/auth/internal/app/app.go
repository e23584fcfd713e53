package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"securechat/internal/usertoken"
	"securechat/pkg/auth"
	"securechat/pkg/domain"
	"securechat/services/auth/internal/userclient"
)

// Users is the identity store as seen by the credential service.
type Users interface {
	Create(ctx context.Context, in userclient.NewUser) (domain.Profile, error)
	Update(ctx context.Context, username string, in userclient.Update) (domain.Profile, error)
	Delete(ctx context.Context, username string) error
	Validate(ctx context.Context, username, password string) (domain.Credentials, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	Users  Users
	Tokens *usertoken.Issuer
}

// App registers accounts and exchanges credentials for bearer tokens.
type App struct {
	users  Users
	tokens *usertoken.Issuer
}

// Session is the login answer.
type Session struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int            `json:"expires_in"`
	User        domain.Profile `json:"user"`
	PrivateKey  string         `json:"private_key"`
}

// EditRequest names the account to change plus optional new values.
type EditRequest struct {
	Username string    `json:"username"`
	Name     *string   `json:"name"`
	Email    *string   `json:"email"`
	Password *string   `json:"password"`
	Contacts *[]string `json:"contacts"`
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Users == nil {
		return nil, errors.New("identity store client is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	return &App{users: cfg.Users, tokens: cfg.Tokens}, nil
}

// Register creates an account after enforcing the password policy locally.
func (a *App) Register(ctx context.Context, in userclient.NewUser) (domain.Profile, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return domain.Profile{}, ErrUsernameRequired
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.Profile{}, err
	}
	return a.users.Create(ctx, in)
}

func (a *App) Edit(ctx context.Context, in EditRequest) (domain.Profile, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return domain.Profile{}, ErrUsernameRequired
	}
	if in.Name == nil && in.Email == nil && in.Password == nil && in.Contacts == nil {
		return domain.Profile{}, ErrNothingToUpdate
	}
	if in.Password != nil {
		if err := auth.ValidatePassword(*in.Password); err != nil {
			return domain.Profile{}, err
		}
	}
	return a.users.Update(ctx, username, userclient.Update{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
		Contacts: in.Contacts,
	})
}

func (a *App) Delete(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameRequired
	}
	return a.users.Delete(ctx, username)
}

// Login validates credentials with the identity store and issues a token
// whose subject is the username.
func (a *App) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	creds, err := a.users.Validate(ctx, username, password)
	if err != nil {
		var apiErr *userclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("validate credentials: %w", err)
	}
	if !creds.OK {
		return Session{}, ErrInvalidCredentials
	}
	issued, err := a.tokens.Issue(creds.User.Username)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		AccessToken: issued.Token,
		TokenType:   "bearer",
		ExpiresIn:   int(a.tokens.TTL().Seconds()),
		User:        creds.User,
		PrivateKey:  creds.PrivateKey,
	}, nil
}
