package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/api/idtoken"

	"github.com/zydorg/kemunify/internal/domain/dedupe"
	"github.com/zydorg/kemunify/pkg/logger"
)

const testClientID = "1234.apps.googleusercontent.com"

func fakeValidator(claims map[string]any) TokenValidator {
	return func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		if token != "good-token" {
			return nil, errors.New("signature mismatch")
		}
		if audience != testClientID {
			return nil, errors.New("audience mismatch")
		}
		return &idtoken.Payload{Audience: audience, Claims: claims}, nil
	}
}

func TestSignIn(t *testing.T) {
	Convey("Given a verifier with a fake token validator", t, func() {
		ctx := context.Background()
		raw, hashed := NewNonce()
		claims := map[string]any{
			"name":    "Siti Aminah",
			"email":   "siti@kemuning.id",
			"picture": "https://lh3.googleusercontent.com/a/siti",
			"nonce":   hashed,
		}
		v := NewVerifier(testClientID,
			WithValidator(fakeValidator(claims)),
			WithNonceDeduper(dedupe.NewInMemoryDeduper()),
			WithLogger(logger.Nop()),
		)

		Convey("A valid Google token maps claims onto a signed-in user", func() {
			u, err := v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, raw)
			So(err, ShouldBeNil)
			So(u.FullName, ShouldEqual, "Siti Aminah")
			So(u.Email, ShouldEqual, "siti@kemuning.id")
			So(u.Profile, ShouldEqual, "https://lh3.googleusercontent.com/a/siti")
			So(u.IsLogin, ShouldBeTrue)
		})

		Convey("A nonce can be used once", func() {
			_, err := v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, raw)
			So(err, ShouldBeNil)
			_, err = v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, raw)
			So(errors.Is(err, ErrNonceReplayed), ShouldBeTrue)
		})

		Convey("A nonce that does not match the claim is rejected", func() {
			_, err := v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, "other")
			So(errors.Is(err, ErrNonceMismatch), ShouldBeTrue)
		})

		Convey("A token carrying a nonce claim is refused without the nonce", func() {
			_, err := v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, "")
			So(errors.Is(err, ErrNonceMismatch), ShouldBeTrue)

			_, err = v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, raw)
			So(err, ShouldBeNil)
			_, err = v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, "")
			So(errors.Is(err, ErrNonceMismatch), ShouldBeTrue)
		})

		Convey("A token without a nonce claim signs in without one", func() {
			delete(claims, "nonce")
			_, err := v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, "")
			So(err, ShouldBeNil)

			_, err = v.SignIn(ctx, GoogleIDToken{Token: "good-token"}, raw)
			So(errors.Is(err, ErrNonceMismatch), ShouldBeTrue)
		})

		Convey("A bad token is rejected", func() {
			_, err := v.SignIn(ctx, GoogleIDToken{Token: "forged"}, raw)
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)

			_, err = v.SignIn(ctx, GoogleIDToken{Token: "  "}, raw)
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)
		})

		Convey("Password and passkey credentials are not supported", func() {
			_, err := v.SignIn(ctx, Password{ID: "siti", Password: "x"}, "")
			So(errors.Is(err, ErrUnsupportedCredential), ShouldBeTrue)
			_, err = v.SignIn(ctx, PublicKey{ResponseJSON: "{}"}, "")
			So(errors.Is(err, ErrUnsupportedCredential), ShouldBeTrue)
			_, err = v.SignIn(ctx, nil, "")
			So(errors.Is(err, ErrUnsupportedCredential), ShouldBeTrue)
		})
	})

	Convey("A token without email does not sign in", t, func() {
		v := NewVerifier(testClientID, WithValidator(fakeValidator(map[string]any{"name": "x"})), WithLogger(logger.Nop()))
		_, err := v.SignIn(context.Background(), GoogleIDToken{Token: "good-token"}, "")
		So(errors.Is(err, ErrMissingEmail), ShouldBeTrue)
	})

	Convey("Without a client id Google sign-in is refused", t, func() {
		v := NewVerifier("", WithLogger(logger.Nop()))
		_, err := v.SignIn(context.Background(), GoogleIDToken{Token: "good-token"}, "")
		So(errors.Is(err, ErrNoClientID), ShouldBeTrue)
	})
}

func TestNonce(t *testing.T) {
	Convey("HashNonce is the hex SHA-256 of the raw nonce", t, func() {
		So(HashNonce("abc"), ShouldEqual, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
		raw1, h1 := NewNonce()
		raw2, _ := NewNonce()
		So(raw1, ShouldNotEqual, raw2)
		So(h1, ShouldEqual, HashNonce(raw1))
	})
}

func TestIssuer(t *testing.T) {
	Convey("Given an issuer", t, func() {
		iss, err := NewIssuer("s3cret", time.Hour)
		So(err, ShouldBeNil)

		Convey("issued tokens verify to their subject", func() {
			tok, exp, err := iss.Issue("siti@kemuning.id")
			So(err, ShouldBeNil)
			So(exp, ShouldHappenAfter, time.Now())
			sub, err := iss.Verify(tok)
			So(err, ShouldBeNil)
			So(sub, ShouldEqual, "siti@kemuning.id")
		})

		Convey("tokens signed with another secret fail", func() {
			other, _ := NewIssuer("other", time.Hour)
			tok, _, _ := other.Issue("siti@kemuning.id")
			_, err := iss.Verify(tok)
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)
		})

		Convey("expired tokens fail", func() {
			tok, _, _ := iss.Issue("siti@kemuning.id")
			iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
			_, err := iss.Verify(tok)
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)
		})

		Convey("garbage fails", func() {
			_, err := iss.Verify("not.a.token")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("An empty secret is refused", t, func() {
		_, err := NewIssuer("", time.Hour)
		So(err, ShouldEqual, ErrNoSecret)
	})
}
