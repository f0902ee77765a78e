// Package session owns sign in, sign out and the restored session on start.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/jrsteele09/smartstudy-sync/credentials"
	"github.com/jrsteele09/smartstudy-sync/gateway"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/internal/utils"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const userSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": ["string", "integer"]},
		"name": {"type": "string"},
		"email": {"type": "string"}
	}
}`

var userValidator = storage.MustCompileSchema("current-user", userSchema)

// AuthenticatedHook runs after a successful login, register or restored
// session. It is where the initial data load is started.
type AuthenticatedHook func(ctx context.Context, user apimodel.User)

type Controller struct {
	gateway *gateway.Gateway
	creds   *credentials.Store
	store   storage.Store
	app     *AppContext
	logger  zerolog.Logger
	nowFunc func() time.Time

	hookMu          sync.RWMutex
	onAuthenticated AuthenticatedHook
}

type Option func(*Controller)

func WithNowFunc(now func() time.Time) Option {
	return func(c *Controller) {
		c.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithOnAuthenticated(hook AuthenticatedHook) Option {
	return func(c *Controller) {
		c.onAuthenticated = hook
	}
}

func NewController(gw *gateway.Gateway, creds *credentials.Store, store storage.Store, app *AppContext, options ...Option) *Controller {
	c := &Controller{
		gateway: gw,
		creds:   creds,
		store:   store,
		app:     app,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.app == nil {
		c.app = NewAppContext()
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	return c
}

// SetOnAuthenticated replaces the hook run after authentication.
func (c *Controller) SetOnAuthenticated(hook AuthenticatedHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onAuthenticated = hook
}

func (c *Controller) App() *AppContext {
	return c.app
}

func (c *Controller) State() State {
	return c.app.State()
}

// Login exchanges email and password for a token pair. On failure the
// controller stays unauthenticated and the server's message is returned
// unchanged.
func (c *Controller) Login(ctx context.Context, email, password string) (*apimodel.User, error) {
	return c.authenticate(ctx, apimodel.PathLogin, apimodel.LoginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	})
}

// Register creates an account and signs straight into it.
func (c *Controller) Register(ctx context.Context, name, email, password string) (*apimodel.User, error) {
	return c.authenticate(ctx, apimodel.PathRegister, apimodel.RegisterRequest{
		Name:     strings.TrimSpace(name),
		Email:    strings.TrimSpace(email),
		Password: password,
	})
}

func (c *Controller) authenticate(ctx context.Context, path string, req any) (*apimodel.User, error) {
	previous := c.app.State()
	c.app.setState(Authenticating)

	var resp apimodel.AuthResponse
	if err := c.gateway.PostJSON(ctx, path, req, &resp); err != nil {
		c.app.setState(previous)
		return nil, err
	}
	if resp.AccessToken == "" {
		c.app.setState(previous)
		return nil, errors.Wrapf(errors.ErrInvalidInput, "%s response without access token", path)
	}

	tokens := credentials.NewTokenPair(resp.AccessToken, utils.Value(resp.RefreshToken), resp.ExpiresIn, c.nowFunc())
	if err := c.creds.Set(ctx, tokens); err != nil {
		c.app.setState(previous)
		return nil, err
	}
	user := apimodel.User{ID: resp.ID, Name: resp.Name, Email: resp.Email}
	if err := storage.SaveJSON(ctx, c.store, storage.CurrentUserKey, user); err != nil {
		c.app.setState(previous)
		return nil, err
	}

	c.app.signIn(user)
	c.logger.Info().Str("user_id", user.ID.String()).Str("via", path).Msg("signed in")
	c.runHook(ctx, user)
	return &user, nil
}

// Logout forgets the tokens and the persisted user. It never contacts the
// server. Storage failures are logged and the local state is reset anyway.
func (c *Controller) Logout(ctx context.Context) {
	if err := c.creds.Clear(ctx); err != nil {
		c.logger.Err(err).Msg("could not clear credentials")
	}
	if err := c.store.Delete(ctx, storage.CurrentUserKey); err != nil {
		c.logger.Err(err).Msg("could not clear current user")
	}
	c.app.signOut()
	c.logger.Info().Msg("signed out")
}

// Bootstrap restores an authenticated session from local data when both the
// persisted user and a token pair exist, then runs the authenticated hook. The
// tokens are not checked against the server. It reports whether a session was
// restored.
func (c *Controller) Bootstrap(ctx context.Context) (bool, error) {
	restored, err := c.Restore(ctx)
	if err != nil || !restored {
		return restored, err
	}
	c.runHook(ctx, *c.app.User())
	return true, nil
}

// Restore is Bootstrap without the authenticated hook, for callers that load
// data themselves.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	user, err := c.PersistedUser(ctx)
	if err != nil {
		return false, err
	}
	tokens, err := c.creds.Get(ctx)
	if err != nil {
		return false, err
	}
	if user == nil || tokens == nil {
		c.app.signOut()
		return false, nil
	}

	c.app.signIn(*user)
	c.logger.Debug().Str("user_id", user.ID.String()).Msg("restored session")
	return true, nil
}

// PersistedUser returns the stored identity, nil when absent or corrupt.
func (c *Controller) PersistedUser(ctx context.Context) (*apimodel.User, error) {
	var user apimodel.User
	found, err := storage.LoadJSON(ctx, c.store, storage.CurrentUserKey, userValidator, &user)
	if err != nil || !found {
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

// Profile fetches the signed in user's profile and updates the stored
// identity.
func (c *Controller) Profile(ctx context.Context) (*apimodel.User, error) {
	body, err := c.gateway.Request(ctx, apimodel.PathProfile, apimodel.RequestOptions{})
	if err != nil {
		return nil, err
	}
	var user apimodel.User
	if err := storage.Decode(storage.CurrentUserKey, body, userValidator, &user); err != nil {
		return nil, err
	}
	if current := c.app.User(); current != nil && current.ID != user.ID {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "profile for %s does not match signed in user %s", user.ID, current.ID)
	}
	if err := storage.SaveJSON(ctx, c.store, storage.CurrentUserKey, user); err != nil {
		return nil, err
	}
	c.app.signIn(user)
	return &user, nil
}

func (c *Controller) runHook(ctx context.Context, user apimodel.User) {
	c.hookMu.RLock()
	hook := c.onAuthenticated
	c.hookMu.RUnlock()
	if hook != nil {
		hook(ctx, user)
	}
}
