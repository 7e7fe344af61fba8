package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/obs"
	"github.com/playerdash/dashboard/internal/auth/push"
	"github.com/playerdash/dashboard/internal/auth/revocation"
	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store       store.Store
	revocations *revocation.Index

	TokenService     *service.TokenService
	LoginService     *service.LoginService
	TOTPService      *service.TOTPService
	InviteService    *service.InviteService
	ResetService     *service.ResetService
	PrincipalService *service.PrincipalService
	Signer           *service.Signer
	Hub              *push.Hub

	AllowedOrigins []string
}

func NewRouter(
	buildVersion string,
	st store.Store,
	rvk *revocation.Index,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		revocations:  rvk,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		obs.Instrument,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSessions()
	r.registerRegistration()
	r.registerPasswordReset()
	r.registerTwoFA()
	r.registerSigning()
	r.registerPrincipals()
	r.registerPush()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSessions() {
	// POST /auth/login - strict rate limit (credential guessing)
	r.Mux.Handle("POST /auth/login",
		httpx.Chain(&LoginHandler{LoginService: r.LoginService},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /auth/2fa/verify-login - strict rate limit (code guessing)
	r.Mux.Handle("POST /auth/2fa/verify-login",
		httpx.Chain(&VerifyLoginHandler{LoginService: r.LoginService},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /auth/refresh - moderate rate limit; every tab refreshes
	r.Mux.Handle("POST /auth/refresh",
		httpx.Chain(&RefreshHandler{TokenService: r.TokenService},
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /auth/logout - authenticated
	r.Mux.Handle("POST /auth/logout",
		httpx.Chain(&LogoutHandler{TokenService: r.TokenService},
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerRegistration() {
	// POST /auth/register-invitation - requires invitation capability
	r.Mux.Handle("POST /auth/register-invitation",
		httpx.Chain(&RegisterInvitationHandler{InviteService: r.InviteService},
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RequireCapability(domain.CapInvite),
			httpx.RateLimitByPrincipal(httpx.ModerateLimit),
		),
	)

	// POST /auth/resend-invitation/{id} - requires invitation capability
	r.Mux.Handle("POST /auth/resend-invitation/{id}",
		httpx.Chain(&ResendInvitationHandler{InviteService: r.InviteService},
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RequireCapability(domain.CapInvite),
			httpx.RateLimitByPrincipal(httpx.ModerateLimit),
		),
	)

	// POST /auth/complete-registration - public, strict rate limit
	r.Mux.Handle("POST /auth/complete-registration",
		httpx.Chain(&CompleteRegistrationHandler{InviteService: r.InviteService, TokenService: r.TokenService},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /auth/verify-token - public, the forms poll it
	r.Mux.Handle("GET /auth/verify-token",
		httpx.Chain(&VerifyTokenHandler{InviteService: r.InviteService},
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerPasswordReset() {
	r.Mux.Handle("POST /auth/forgot-password",
		httpx.Chain(&ForgotPasswordHandler{ResetService: r.ResetService},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /auth/reset-password",
		httpx.Chain(&ResetPasswordHandler{ResetService: r.ResetService},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerTwoFA() {
	h := &TwoFAHandler{TOTPService: r.TOTPService}

	// POST /auth/2fa/generate - moderate rate limit by principal
	r.Mux.Handle("POST /auth/2fa/generate",
		httpx.Chain(http.HandlerFunc(h.HandleGenerate),
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.ModerateLimit),
		),
	)

	// Code-bearing endpoints get strict limits against TOTP brute force.
	r.Mux.Handle("POST /auth/2fa/verify-setup",
		httpx.Chain(http.HandlerFunc(h.HandleVerifySetup),
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /auth/2fa/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /auth/2fa/disable",
		httpx.Chain(http.HandlerFunc(h.HandleDisable),
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /auth/2fa/cancel",
		httpx.Chain(http.HandlerFunc(h.HandleCancel),
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /auth/2fa/status",
		httpx.Chain(http.HandlerFunc(h.HandleStatus),
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSigning() {
	r.Mux.Handle("POST /auth/sign-request",
		httpx.Chain(&SignRequestHandler{Signer: r.Signer},
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RateLimitByPrincipal(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerPrincipals() {
	r.Mux.Handle("DELETE /auth/principals/{id}",
		httpx.Chain(&DeletePrincipalHandler{PrincipalService: r.PrincipalService},
			httpx.AuthnMiddleware(r.TokenService),
			httpx.RequireCapability(domain.CapManageTenant),
			httpx.RequireSignedRequest(r.Signer),
			httpx.RateLimitByPrincipal(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerPush() {
	// Admission happens inside the handler: the credential rides in the
	// Sec-WebSocket-Protocol offer, not the Authorization header.
	r.Mux.Handle("GET /auth/ws",
		httpx.Chain(&push.Handler{
			Hub:            r.Hub,
			Checker:        r.TokenService,
			AllowedOrigins: r.AllowedOrigins,
		},
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.revocations),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /metrics", obs.Handler())
}
