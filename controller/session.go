package controller

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"

	"github.com/tinkerbell/aqtctl/pkg/zaci"
)

// Session is an authenticated context against one appliance. The token is only
// replaced by an explicit Renew; a Session must not be shared between goroutines.
type Session struct {
	client   *zaci.Client
	username string
	password string
	token    string
	log      logr.Logger
}

// Issue authenticates against the appliance behind client and returns the Session.
// Rejected credentials and an unreachable appliance both fail with a zaci.AuthError.
func Issue(ctx context.Context, client *zaci.Client, username, password string, log logr.Logger) (*Session, error) {
	s := &Session{
		client:   client,
		username: username,
		password: password,
		log:      log.WithName("session"),
	}
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	s.log.Info("session established", "address", client.Address(), "username", username)

	return s, nil
}

// Renew re-authenticates with the stored credentials and replaces the token.
// Nothing but the token changes, so it may be called at any time.
func (s *Session) Renew(ctx context.Context) error {
	if err := s.authenticate(ctx); err != nil {
		return err
	}
	sessionRenewals.Inc()
	s.log.V(1).Info("session renewed")

	return nil
}

func (s *Session) authenticate(ctx context.Context) error {
	token, err := s.client.Token(ctx, s.username, s.password)
	if err != nil {
		return err
	}
	s.token = token

	return nil
}

// Address returns the appliance address.
func (s *Session) Address() string {
	return s.client.Address()
}

// Client returns the request executor of the session.
func (s *Session) Client() *zaci.Client {
	return s.client
}

// Do performs r with the current token.
func (s *Session) Do(ctx context.Context, r zaci.Request) (*zaci.Response, error) {
	r.Token = s.token
	return s.client.Do(ctx, r)
}

// Get decodes the 2xx JSON response of path into out.
func (s *Session) Get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := s.client.JSON(ctx, http.MethodGet, s.token, path, query, nil, out)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}

	return nil
}

// Put sends in and decodes a 2xx response into out. The response is returned whenever one was received.
func (s *Session) Put(ctx context.Context, path string, in, out any) (*zaci.Response, error) {
	return s.client.JSON(ctx, http.MethodPut, s.token, path, nil, in, out)
}
