// Package identity signs staff in with Google ID tokens and issues the
// API tokens that guard ledger routes.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/api/idtoken"

	"github.com/zydorg/kemunify/internal/domain/dedupe"
	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

var (
	ErrUnsupportedCredential = errors.New("unsupported credential")
	ErrInvalidToken          = errors.New("invalid id token")
	ErrNonceMismatch         = errors.New("nonce does not match token")
	ErrNonceReplayed         = errors.New("nonce already used")
	ErrMissingEmail          = errors.New("token carries no email")
	ErrNoClientID            = errors.New("google client id is not configured")
)

// Credential is one of GoogleIDToken, Password or PublicKey.
type Credential interface {
	credential()
}

// GoogleIDToken is a raw ID token obtained from Google Sign-In.
type GoogleIDToken struct {
	Token string
}

// Password is a saved username/password pair.
type Password struct {
	ID       string
	Password string
}

// PublicKey is a passkey authentication response.
type PublicKey struct {
	ResponseJSON string
}

func (GoogleIDToken) credential() {}
func (Password) credential()      {}
func (PublicKey) credential()     {}

// TokenValidator checks an ID token against an audience.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Verifier turns credentials into signed-in users.
type Verifier struct {
	clientID string
	validate TokenValidator
	nonces   dedupe.Deduper
	logger   logger.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithValidator replaces idtoken.Validate.
func WithValidator(fn TokenValidator) Option {
	return func(v *Verifier) {
		if fn != nil {
			v.validate = fn
		}
	}
}

// WithNonceDeduper rejects nonces seen before.
func WithNonceDeduper(d dedupe.Deduper) Option {
	return func(v *Verifier) { v.nonces = d }
}

// WithLogger sets the verifier logger.
func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVerifier creates a Verifier accepting tokens issued for clientID.
func NewVerifier(clientID string, opts ...Option) *Verifier {
	v := &Verifier{clientID: clientID, validate: idtoken.Validate}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logger.Get()
	}
	v.logger = v.logger.Named("identity")
	return v
}

// SignIn verifies cred. When rawNonce is not empty the token must carry its
// hash and the nonce must not have been used before. A token that carries a
// nonce claim is only accepted together with its raw nonce.
func (v *Verifier) SignIn(ctx context.Context, cred Credential, rawNonce string) (model.User, error) {
	var (
		user model.User
		err  error
	)
	switch c := cred.(type) {
	case GoogleIDToken:
		user, err = v.signInGoogle(ctx, c, rawNonce)
	case Password:
		err = fmt.Errorf("%w: password", ErrUnsupportedCredential)
	case PublicKey:
		err = fmt.Errorf("%w: public key", ErrUnsupportedCredential)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupportedCredential, cred)
	}
	if err != nil {
		metrics.RecordSignIn("failed")
		v.logger.Warn(ctx, "sign-in rejected", logger.Error(err))
		return model.User{}, err
	}
	metrics.RecordSignIn("ok")
	v.logger.Info(ctx, "signed in", logger.String("email", user.Email))
	return user, nil
}

func (v *Verifier) signInGoogle(ctx context.Context, c GoogleIDToken, rawNonce string) (model.User, error) {
	if v.clientID == "" {
		return model.User{}, ErrNoClientID
	}
	if strings.TrimSpace(c.Token) == "" {
		return model.User{}, ErrInvalidToken
	}
	payload, err := v.validate(ctx, c.Token, v.clientID)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	tokenNonce := claim(payload, "nonce")
	if tokenNonce != "" && rawNonce == "" {
		return model.User{}, fmt.Errorf("%w: token carries a nonce", ErrNonceMismatch)
	}
	if rawNonce != "" {
		if tokenNonce != HashNonce(rawNonce) {
			return model.User{}, ErrNonceMismatch
		}
		if v.nonces != nil && v.nonces.SeenAndRecord(ctx, rawNonce) {
			return model.User{}, ErrNonceReplayed
		}
	}

	user := model.User{
		FullName: claim(payload, "name"),
		Email:    claim(payload, "email"),
		Profile:  claim(payload, "picture"),
		IsLogin:  true,
	}
	if user.Email == "" {
		return model.User{}, ErrMissingEmail
	}
	return user, nil
}

func claim(p *idtoken.Payload, key string) string {
	if p == nil || p.Claims == nil {
		return ""
	}
	s, _ := p.Claims[key].(string)
	return s
}

// NewNonce returns a fresh raw nonce and the hash a client passes to Google.
func NewNonce() (raw, hashed string) {
	raw = uuid.NewString()
	return raw, HashNonce(raw)
}

// HashNonce returns the lowercase hex SHA-256 of raw.
func HashNonce(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
