// README: Firebase app setup, ID token verification and a development verifier for local runs.
package infra

import (
	"context"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/go-faster/errors"
	"google.golang.org/api/option"
)

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// Role returns the custom "role" claim, or "" when absent.
func (t *FirebaseToken) Role() string {
	if t == nil {
		return ""
	}
	if r, ok := t.Claims["role"].(string); ok {
		return r
	}
	return ""
}

// TokenVerifier verifies a raw bearer token and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseApp uses credentialsFile when set, application-default
// credentials otherwise.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "firebase app")
	}
	return app, nil
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (TokenVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase auth client")
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}

// devVerifier accepts "<uid>:<role>" tokens. Never enable it in production.
type devVerifier struct{}

func NewDevVerifier() TokenVerifier { return devVerifier{} }

func (devVerifier) VerifyIDToken(_ context.Context, idToken string) (*FirebaseToken, error) {
	uid, role, ok := strings.Cut(idToken, ":")
	if !ok || uid == "" || role == "" {
		return nil, errors.New("dev token must be <uid>:<role>")
	}
	return &FirebaseToken{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}
