// README: Firebase Admin SDK initialisation: staff token verifier and FCM client.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// StaffToken holds the verified token data used by downstream middleware.
type StaffToken struct {
	UID    string
	Claims map[string]interface{}
}

// TenantID is the restaurant the staff member belongs to, from the
// "restaurant_id" custom claim. Empty for platform-level accounts.
func (t *StaffToken) TenantID() string {
	return t.claim("restaurant_id")
}

// Role is the "role" custom claim (e.g. "kitchen", "manager", "admin").
func (t *StaffToken) Role() string {
	return t.claim("role")
}

func (t *StaffToken) claim(key string) string {
	if t == nil || t.Claims == nil {
		return ""
	}
	v, _ := t.Claims[key].(string)
	return v
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*StaffToken, error)
}

// Firebase wraps one Admin SDK app shared by auth and messaging.
type Firebase struct {
	app *firebase.App
}

// NewFirebase initialises the Admin SDK. If credentialsFile is non-empty it is
// used as the service-account JSON path; otherwise application-default
// credentials are used.
func NewFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return &Firebase{app: app}, nil
}

func (f *Firebase) Verifier(ctx context.Context) (TokenVerifier, error) {
	client, err := f.app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (f *Firebase) Messaging(ctx context.Context) (*messaging.Client, error) {
	client, err := f.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return client, nil
}

type firebaseVerifier struct {
	client *auth.Client
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*StaffToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &StaffToken{UID: token.UID, Claims: token.Claims}, nil
}
