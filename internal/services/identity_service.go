package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/solara-energy/api/internal/platform/auth"
)

var (
	// ErrIdentityInvalidInput indicates the checkout form supplied unusable contact details.
	ErrIdentityInvalidInput = errors.New("identity: invalid input")
	// ErrIdentityAccountExists indicates the guest email already belongs to a registered account.
	ErrIdentityAccountExists = errors.New("identity: account already exists")
	// ErrIdentityProvisionFailed indicates the account backend rejected guest provisioning.
	ErrIdentityProvisionFailed = errors.New("identity: provisioning failed")
)

// identityDirectory is the slice of the Firebase admin client the resolver needs.
type identityDirectory interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*firebaseauth.UserRecord, error)
	CreateUser(ctx context.Context, email, displayName, phone string) (*firebaseauth.UserRecord, error)
	EmailSignInLink(ctx context.Context, email, redirectURL string) (string, error)
}

// IdentityServiceDeps wires the dependencies required by the identity service.
type IdentityServiceDeps struct {
	Directory         identityDirectory
	SignInRedirectURL string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type identityService struct {
	directory         identityDirectory
	signInRedirectURL string
	logger            func(ctx context.Context, event string, fields map[string]any)
}

// NewIdentityService constructs an IdentityService validating required dependencies.
func NewIdentityService(deps IdentityServiceDeps) (IdentityService, error) {
	if deps.Directory == nil {
		return nil, errors.New("identity service: directory is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &identityService{
		directory:         deps.Directory,
		signInRedirectURL: strings.TrimSpace(deps.SignInRedirectURL),
		logger:            logger,
	}, nil
}

// Resolve returns the buyer the checkout runs under. Authenticated callers
// pass straight through; guests get a passwordless account provisioned before
// any order state is written, so provisioning failures leave nothing behind.
func (s *identityService) Resolve(ctx context.Context, cmd ResolveIdentityCommand) (ResolvedIdentity, error) {
	if uid := strings.TrimSpace(cmd.AuthenticatedUID); uid != "" {
		return s.resolveAuthenticated(ctx, uid, cmd.Contact)
	}
	return s.provisionGuest(ctx, cmd.Contact)
}

func (s *identityService) resolveAuthenticated(ctx context.Context, uid string, contact BuyerContact) (ResolvedIdentity, error) {
	record, err := s.directory.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return ResolvedIdentity{}, fmt.Errorf("%w: unknown subject", ErrIdentityInvalidInput)
		}
		return ResolvedIdentity{}, fmt.Errorf("%w: %v", ErrIdentityProvisionFailed, err)
	}

	email := record.Email
	if email == "" {
		email = strings.ToLower(strings.TrimSpace(contact.Email))
	}
	name := record.DisplayName
	if name == "" {
		name = strings.TrimSpace(contact.FullName)
	}
	return ResolvedIdentity{BuyerID: record.UID, Email: email, FullName: name}, nil
}

func (s *identityService) provisionGuest(ctx context.Context, contact BuyerContact) (ResolvedIdentity, error) {
	email := strings.ToLower(strings.TrimSpace(contact.Email))
	if email == "" || !strings.Contains(email, "@") {
		return ResolvedIdentity{}, fmt.Errorf("%w: email is required", ErrIdentityInvalidInput)
	}
	name := strings.TrimSpace(contact.FullName)
	if name == "" {
		return ResolvedIdentity{}, fmt.Errorf("%w: full name is required", ErrIdentityInvalidInput)
	}

	existing, err := s.directory.GetUserByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		// The buyer must sign in; attaching the order to an account the
		// caller has not proven ownership of is never acceptable.
		return ResolvedIdentity{}, fmt.Errorf("%w: %s", ErrIdentityAccountExists, email)
	case err != nil && !errors.Is(err, auth.ErrUserNotFound):
		return ResolvedIdentity{}, fmt.Errorf("%w: lookup: %v", ErrIdentityProvisionFailed, err)
	}

	record, err := s.directory.CreateUser(ctx, email, name, strings.TrimSpace(contact.Phone))
	if err != nil {
		return ResolvedIdentity{}, fmt.Errorf("%w: create: %v", ErrIdentityProvisionFailed, err)
	}

	identity := ResolvedIdentity{
		BuyerID:     record.UID,
		Email:       email,
		FullName:    name,
		Provisioned: true,
	}

	// A failed sign-in link must not abort the checkout; the account exists
	// and the link can be re-requested from the sign-in page.
	link, err := s.directory.EmailSignInLink(ctx, email, s.signInRedirectURL)
	if err != nil {
		s.logger(ctx, "identity.signin_link.failed", map[string]any{
			"buyerId": record.UID,
			"error":   err.Error(),
		})
	} else {
		identity.SignInLink = link
	}

	s.logger(ctx, "identity.guest.provisioned", map[string]any{"buyerId": record.UID})
	return identity, nil
}
