package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/solara-energy/api/internal/platform/config"
)

// ErrUserNotFound indicates the looked-up account does not exist.
var ErrUserNotFound = errors.New("auth: user not found")

// FirebaseClient wraps the Firebase Admin SDK for token verification and
// account provisioning.
type FirebaseClient struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// FirebaseOption customises FirebaseClient instances.
type FirebaseOption func(*FirebaseClient)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(c *FirebaseClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewFirebaseClient constructs a FirebaseClient backed by the Admin SDK.
func NewFirebaseClient(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseClient, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	c := &FirebaseClient{
		client:  authClient,
		timeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// VerifyIDToken forwards verification to the Firebase client using a bounded context.
func (c *FirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("firebase client not initialised")
	}
	ctx, cancel := c.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}
	return c.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads a Firebase user record for the given UID.
func (c *FirebaseClient) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("firebase client not initialised")
	}
	ctx, cancel := c.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}
	record, err := c.client.GetUser(ctx, uid)
	if err != nil {
		if firebaseauth.IsUserNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
		}
		return nil, err
	}
	return record, nil
}

// GetUserByEmail looks up a user record by email address.
func (c *FirebaseClient) GetUserByEmail(ctx context.Context, email string) (*firebaseauth.UserRecord, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("firebase client not initialised")
	}
	ctx, cancel := c.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}
	record, err := c.client.GetUserByEmail(ctx, email)
	if err != nil {
		if firebaseauth.IsUserNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return nil, err
	}
	return record, nil
}

// CreateUser provisions a new account without a password. Callers follow up
// with a sign-in link so the user sets credentials on first login.
func (c *FirebaseClient) CreateUser(ctx context.Context, email, displayName, phone string) (*firebaseauth.UserRecord, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("firebase client not initialised")
	}
	ctx, cancel := c.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}

	params := (&firebaseauth.UserToCreate{}).
		Email(strings.TrimSpace(email)).
		EmailVerified(false).
		Disabled(false)
	if name := strings.TrimSpace(displayName); name != "" {
		params = params.DisplayName(name)
	}
	if trimmed := strings.TrimSpace(phone); trimmed != "" {
		params = params.PhoneNumber(trimmed)
	}
	return c.client.CreateUser(ctx, params)
}

// EmailSignInLink generates a passwordless sign-in link for the given address.
func (c *FirebaseClient) EmailSignInLink(ctx context.Context, email, redirectURL string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("firebase client not initialised")
	}
	ctx, cancel := c.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}

	settings := &firebaseauth.ActionCodeSettings{
		URL:             strings.TrimSpace(redirectURL),
		HandleCodeInApp: true,
	}
	return c.client.EmailSignInLink(ctx, strings.TrimSpace(email), settings)
}

func (c *FirebaseClient) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, c.timeout)
}
