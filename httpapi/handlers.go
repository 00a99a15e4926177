package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/MrEthical07/goOTP/accounts"
	"github.com/MrEthical07/goOTP/jwt"
	"github.com/labstack/echo/v4"
)

// Hasher turns a plaintext password into the stored credential.
type Hasher interface {
	Hash(secret string) (string, error)
}

// TokenIssuer signs the account token returned after a completed workflow.
type TokenIssuer interface {
	Issue(acct jwt.Account, via string) (string, error)
}

// Directory looks up an account by email so a token can carry its ID and role.
type Directory interface {
	Lookup(ctx context.Context, email string) (accounts.Account, error)
}

// Handlers serves the challenge endpoints.
type Handlers struct {
	engine    *goOTP.Engine
	hasher    Hasher
	tokens    TokenIssuer
	directory Directory
	logger    *slog.Logger
}

// Option configures optional Handlers collaborators.
type Option func(*Handlers)

// WithTokens makes verify responses carry a signed account token.
func WithTokens(t TokenIssuer) Option {
	return func(h *Handlers) { h.tokens = t }
}

// WithDirectory enables account lookups for token claims.
func WithDirectory(d Directory) Option {
	return func(h *Handlers) { h.directory = d }
}

// WithLogger sets the logger for server-side failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates Handlers. engine and hasher are required.
func New(engine *goOTP.Engine, hasher Hasher, opts ...Option) *Handlers {
	h := &Handlers{
		engine: engine,
		hasher: hasher,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on e.
func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/challenge")
	g.POST("", h.RequestChallenge)
	g.POST("/verify", h.VerifyChallenge)
	g.POST("/finalize", h.RetryFinalize)
}

// RegistrationBody is the pending account sent with a registration request.
type RegistrationBody struct {
	Name     string            `json:"name"`
	Password string            `json:"password"`
	Role     string            `json:"role"`
	Profile  map[string]string `json:"profile,omitempty"`
}

// ChallengeRequest is the body of POST /challenge.
type ChallengeRequest struct {
	Subject      string            `json:"subject"`
	Purpose      string            `json:"purpose"`
	Registration *RegistrationBody `json:"registration,omitempty"`
}

// VerifyRequest is the body of POST /challenge/verify.
type VerifyRequest struct {
	Subject     string `json:"subject"`
	Purpose     string `json:"purpose"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password,omitempty"`
}

// FinalizeRequest is the body of POST /challenge/finalize.
type FinalizeRequest struct {
	Ticket string `json:"ticket"`
}

// VerifyResponse is returned by a successful verify or finalize.
type VerifyResponse struct {
	Status    string `json:"status"`
	AccountID string `json:"account_id,omitempty"`
	Token     string `json:"token,omitempty"`
}

// Health reports liveness.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// RequestChallenge issues a code for the requested purpose.
func (h *Handlers) RequestChallenge(c echo.Context) error {
	var req ChallengeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Malformed request body.")
	}
	purpose, err := goOTP.ParsePurpose(req.Purpose)
	if err != nil {
		return h.respondError(c, err)
	}
	ctx := c.Request().Context()

	switch purpose {
	case goOTP.PurposeRegistration:
		if req.Registration == nil {
			return h.respondError(c, goOTP.ErrInvalidPayload)
		}
		hash, err := h.hasher.Hash(req.Registration.Password)
		if err != nil {
			return h.respondError(c, err)
		}
		err = h.engine.RequestRegistration(ctx, goOTP.Registration{
			Email:      req.Subject,
			Name:       req.Registration.Name,
			SecretHash: hash,
			Role:       req.Registration.Role,
			Profile:    req.Registration.Profile,
		})
		if err != nil {
			return h.respondError(c, err)
		}
	default:
		if req.Registration != nil {
			return h.respondError(c, goOTP.ErrInvalidPayload)
		}
		if err := h.engine.RequestPasswordReset(ctx, req.Subject); err != nil {
			return h.respondError(c, err)
		}
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":  "sent",
		"message": "If the address can receive a code, one has been sent.",
	})
}

// VerifyChallenge checks a code and completes the workflow.
func (h *Handlers) VerifyChallenge(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Malformed request body.")
	}
	purpose, err := goOTP.ParsePurpose(req.Purpose)
	if err != nil {
		return h.respondError(c, err)
	}
	ctx := c.Request().Context()

	subject, err := goOTP.NormalizeSubject(req.Subject)
	if err != nil {
		return h.respondError(c, err)
	}

	var id string
	switch purpose {
	case goOTP.PurposeRegistration:
		id, err = h.engine.ConfirmRegistration(ctx, subject, req.Code)
		if err != nil {
			return h.respondError(c, err)
		}
	default:
		// Hash before verifying so a weak password does not spend an attempt.
		hash, err := h.hasher.Hash(req.NewPassword)
		if err != nil {
			return h.respondError(c, err)
		}
		if err := h.engine.ConfirmPasswordReset(ctx, subject, req.Code, hash); err != nil {
			return h.respondError(c, err)
		}
	}

	resp := VerifyResponse{Status: "ok", AccountID: id}
	h.attachToken(ctx, &resp, subject, purpose)
	return c.JSON(http.StatusOK, resp)
}

// RetryFinalize repeats the final write of an accepted challenge.
func (h *Handlers) RetryFinalize(c echo.Context) error {
	var req FinalizeRequest
	if err := c.Bind(&req); err != nil || req.Ticket == "" {
		return badRequest(c, "A ticket is required.")
	}

	id, err := h.engine.RetryFinalize(c.Request().Context(), req.Ticket)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, VerifyResponse{Status: "ok", AccountID: id})
}

// attachToken adds a signed token when a TokenIssuer is configured. A token
// failure does not undo the completed workflow; the client can sign in.
func (h *Handlers) attachToken(ctx context.Context, resp *VerifyResponse, subject string, purpose goOTP.Purpose) {
	if h.tokens == nil {
		return
	}

	acct := jwt.Account{ID: resp.AccountID, Email: subject}
	if h.directory != nil {
		found, err := h.directory.Lookup(ctx, subject)
		switch {
		case err == nil:
			acct.ID, acct.Role = found.ID, found.Role
			resp.AccountID = found.ID
		case !errors.Is(err, accounts.ErrNotFound):
			h.logger.Warn("httpapi: account lookup failed", slog.Any("error", err))
		}
	}
	if acct.ID == "" {
		return
	}

	token, err := h.tokens.Issue(acct, purpose.String())
	if err != nil {
		h.logger.Warn("httpapi: token signing failed", slog.Any("error", err))
		return
	}
	resp.Token = token
}

func (h *Handlers) respondError(c echo.Context, err error) error {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request().Context(), "httpapi: request failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	return c.JSON(status, body)
}
