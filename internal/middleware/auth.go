package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/util"
)

// Auth failure reasons used as metric labels.
const (
	authReasonNoSecret     = "no_secret"
	authReasonMissingToken = "missing_token"
	authReasonInvalidToken = "invalid_token"
)

// SubjectKey is the gin context key for the verified token subject.
const SubjectKey = "subject"

var (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrNoSecret is returned when tokens cannot be verified.
	ErrNoSecret = errors.New("no JWT secret configured")
)

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret   []byte
	required bool
	metrics  *observability.Metrics
	logger   observability.Logger
}

// AuthOption is a functional option for configuring the authenticator.
type AuthOption func(*Authenticator)

// WithAuthLogger sets the logger for the authenticator.
func WithAuthLogger(logger observability.Logger) AuthOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithAuthMetrics sets the metrics used to count rejected credentials.
func WithAuthMetrics(metrics *observability.Metrics) AuthOption {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// NewAuthenticator creates an authenticator. With required unset a bad
// or missing token is tolerated; a valid one still yields a subject.
func NewAuthenticator(secret string, required bool, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		secret:   []byte(secret),
		required: required,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Required reports whether requests without a valid token are rejected.
func (a *Authenticator) Required() bool {
	return a.required
}

// Verify checks the bearer token in the Authorization header value and
// returns its subject.
func (a *Authenticator) Verify(authorization string) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}

	raw := bearerToken(authorization)
	if raw == "" {
		return "", ErrMissingToken
	}

	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, a.secret),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", err
	}
	return token.Subject(), nil
}

// Authenticate reports whether the request may proceed and stores the
// subject of a verified token in the request context.
func (a *Authenticator) Authenticate(c *gin.Context) bool {
	subject, err := a.Verify(c.GetHeader(headerAuthorization))
	if err == nil {
		c.Set(SubjectKey, subject)
		c.Request = c.Request.WithContext(util.ContextWithSubject(c.Request.Context(), subject))
		return true
	}

	if !a.required {
		return true
	}

	reason, message := authReasonInvalidToken, "Invalid or missing token"
	switch {
	case errors.Is(err, ErrNoSecret):
		reason, message = authReasonNoSecret, "Authentication is required"
	case errors.Is(err, ErrMissingToken):
		reason = authReasonMissingToken
	}

	if a.metrics != nil {
		a.metrics.RecordAuthFailure(reason)
	}
	a.logger.Debug("authentication failed",
		observability.String("reason", reason),
		observability.String("path", c.Request.URL.Path),
		observability.Error(err),
	)

	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(CodeUnauthorized, message))
	return false
}

// Auth returns a middleware that runs the authenticator. A nil
// authenticator lets every request through.
func Auth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Next()
			return
		}
		if a.Authenticate(c) {
			c.Next()
		}
	}
}

// GetSubject returns the verified token subject, if any.
func GetSubject(c *gin.Context) string {
	if v, exists := c.Get(SubjectKey); exists {
		if subject, ok := v.(string); ok {
			return subject
		}
	}
	return ""
}
