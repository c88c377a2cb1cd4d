package easydb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/oauth2"

	"github.com/Ramsey-B/lichen/pkg/httpclient"
	"github.com/Ramsey-B/lichen/pkg/metrics"
	"github.com/Ramsey-B/lichen/pkg/redis"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

// AuthMode selects how a session is obtained.
type AuthMode string

const (
	// AuthModeSession is the easydb login flow: fetch a token, then authenticate it.
	AuthModeSession AuthMode = "session"
	// AuthModeOAuth2 is the fylr password grant.
	AuthModeOAuth2 AuthMode = "oauth2"
)

const (
	DefaultSessionTTL = 30 * time.Minute
	sessionSkew       = time.Minute
	cacheKeyPrefix    = "lichen:session:"
)

var (
	ErrAuthenticationFailed = errors.New("remote authentication failed")
	ErrUnsupportedAuthMode  = errors.New("unsupported auth mode")
)

// Session is the serializable state needed to call the remote API.
type Session struct {
	Token     string    `json:"token"`
	Mode      AuthMode  `json:"mode"`
	Login     string    `json:"login"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session should be renewed at now.
func (s Session) Expired(now time.Time) bool {
	if s.Token == "" {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt.Add(-sessionSkew))
}

// URL builds a request URL under base. Session mode carries the token as a query parameter.
func (s Session) URL(base, path string, query url.Values) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if s.Mode != AuthModeOAuth2 && s.Token != "" {
		q.Set("token", s.Token)
	}

	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// Headers returns the authorization headers for the session.
func (s Session) Headers() map[string]string {
	if s.Mode == AuthModeOAuth2 && s.Token != "" {
		return map[string]string{"Authorization": "Bearer " + s.Token}
	}
	return nil
}

// SignedURL adds the access token to a URL that is dereferenced by a third party.
func (s Session) SignedURL(raw string) string {
	if s.Mode != AuthModeOAuth2 || s.Token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("access_token", s.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Credentials configure a SessionClient.
type Credentials struct {
	BaseURL      string
	Mode         AuthMode
	Login        string
	Password     string
	ClientID     string
	ClientSecret string
	// TTL applied to sessions that do not report an expiry
	TTL time.Duration
}

// SessionCache stores serialized sessions; *redis.Client satisfies it.
type SessionCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SessionClient acquires and caches remote sessions.
type SessionClient struct {
	creds  Credentials
	http   *httpclient.Client
	cache  SessionCache
	logger ectologger.Logger
	now    func() time.Time

	mu      sync.Mutex
	current *Session
}

// NewSessionClient creates a session client. cache may be nil.
func NewSessionClient(creds Credentials, http *httpclient.Client, cache SessionCache, logger ectologger.Logger) *SessionClient {
	if creds.Mode == "" {
		creds.Mode = AuthModeSession
	}
	if creds.TTL <= 0 {
		creds.TTL = DefaultSessionTTL
	}
	return &SessionClient{
		creds:  creds,
		http:   http,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func (c *SessionClient) BaseURL() string {
	return c.creds.BaseURL
}

func (c *SessionClient) cacheKey() string {
	return cacheKeyPrefix + c.creds.BaseURL + ":" + c.creds.Login
}

// Acquire returns a valid session, from memory, from the cache, or by authenticating.
func (c *SessionClient) Acquire(ctx context.Context) (Session, error) {
	ctx, span := tracing.StartSpan(ctx, "SessionClient.Acquire")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.current.Expired(c.now()) {
		return *c.current, nil
	}

	if cached, ok := c.loadCached(ctx); ok {
		c.current = &cached
		return cached, nil
	}

	session, err := c.authenticate(ctx)
	if err != nil {
		metrics.SessionRefreshes.WithLabelValues(string(c.creds.Mode), "error").Inc()
		tracing.EndSpan(span, err)
		return Session{}, err
	}
	metrics.SessionRefreshes.WithLabelValues(string(c.creds.Mode), "success").Inc()

	c.current = &session
	c.store(ctx, session)
	return session, nil
}

// Invalidate drops the current session so the next Acquire authenticates again.
func (c *SessionClient) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, c.cacheKey()); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to drop cached session")
	}
}

// WithSession runs fn with a valid session. A 401 from fn invalidates the session and retries once.
func (c *SessionClient) WithSession(ctx context.Context, fn func(Session) error) error {
	session, err := c.Acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(session)
	var statusErr *httpclient.StatusError
	if err == nil || !errors.As(err, &statusErr) || !httpclient.IsUnauthorizedStatus(statusErr.StatusCode) {
		return err
	}

	c.logger.WithContext(ctx).Info("Remote session rejected, re-authenticating")
	c.Invalidate(ctx)

	session, err = c.Acquire(ctx)
	if err != nil {
		return err
	}
	return fn(session)
}

func (c *SessionClient) loadCached(ctx context.Context) (Session, bool) {
	if c.cache == nil {
		return Session{}, false
	}

	data, err := c.cache.Get(ctx, c.cacheKey())
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithContext(ctx).WithError(err).Warn("Failed to read cached session")
		}
		return Session{}, false
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return Session{}, false
	}
	if session.Mode != c.creds.Mode || session.Expired(c.now()) {
		return Session{}, false
	}

	c.logger.WithContext(ctx).Debug("Using cached remote session")
	return session, true
}

func (c *SessionClient) store(ctx context.Context, session Session) {
	if c.cache == nil {
		return
	}

	ttl := session.ExpiresAt.Sub(c.now()) - sessionSkew
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(), string(data), ttl); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to cache remote session")
	}
}

func (c *SessionClient) authenticate(ctx context.Context) (Session, error) {
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"mode":  c.creds.Mode,
		"login": c.creds.Login,
	}).Info("Authenticating against remote")

	switch c.creds.Mode {
	case AuthModeSession:
		return c.authenticateSession(ctx)
	case AuthModeOAuth2:
		return c.authenticateOAuth2(ctx)
	default:
		return Session{}, fmt.Errorf("%w: %q", ErrUnsupportedAuthMode, c.creds.Mode)
	}
}

type sessionResponse struct {
	Token         string `json:"token"`
	Authenticated string `json:"authenticated"`
}

func (c *SessionClient) authenticateSession(ctx context.Context) (Session, error) {
	var created sessionResponse
	if _, err := c.http.DoJSON(ctx, http.MethodGet, Session{}.URL(c.creds.BaseURL, "/api/v1/session", nil), nil, nil, &created); err != nil {
		return Session{}, fmt.Errorf("%w: failed to open session: %w", ErrAuthenticationFailed, err)
	}
	if created.Token == "" {
		return Session{}, fmt.Errorf("%w: session response has no token", ErrAuthenticationFailed)
	}

	session := Session{Token: created.Token, Mode: AuthModeSession, Login: c.creds.Login}

	if c.creds.Login != "" {
		query := url.Values{
			"method":   {"easydb"},
			"login":    {c.creds.Login},
			"password": {c.creds.Password},
		}
		var authenticated sessionResponse
		if _, err := c.http.DoJSON(ctx, http.MethodPost, session.URL(c.creds.BaseURL, "/api/v1/session/authenticate", query), nil, nil, &authenticated); err != nil {
			return Session{}, fmt.Errorf("%w: login rejected: %w", ErrAuthenticationFailed, err)
		}
		if authenticated.Token != "" {
			session.Token = authenticated.Token
		}
	}

	session.ExpiresAt = c.now().Add(c.creds.TTL)
	return session, nil
}

func (c *SessionClient) authenticateOAuth2(ctx context.Context) (Session, error) {
	conf := &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: strings.TrimRight(c.creds.BaseURL, "/") + "/api/oauth2/token",
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http.HTTP())
	token, err := conf.PasswordCredentialsToken(ctx, c.creds.Login, c.creds.Password)
	if err != nil {
		return Session{}, fmt.Errorf("%w: password grant: %w", ErrAuthenticationFailed, err)
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(c.creds.TTL)
	}
	return Session{
		Token:     token.AccessToken,
		Mode:      AuthModeOAuth2,
		Login:     c.creds.Login,
		ExpiresAt: expiresAt,
	}, nil
}
