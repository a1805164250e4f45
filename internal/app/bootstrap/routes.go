// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	authgooglefeature "github.com/arborhq/arbor/internal/app/features/authgoogle"
	healthfeature "github.com/arborhq/arbor/internal/app/features/health"
	hooksfeature "github.com/arborhq/arbor/internal/app/features/hooks"
	invitesfeature "github.com/arborhq/arbor/internal/app/features/invites"
	logoutfeature "github.com/arborhq/arbor/internal/app/features/logout"
	membersfeature "github.com/arborhq/arbor/internal/app/features/members"
	messagesfeature "github.com/arborhq/arbor/internal/app/features/messages"
	threadsfeature "github.com/arborhq/arbor/internal/app/features/threads"
	"github.com/arborhq/arbor/internal/app/system/auth"
	"github.com/arborhq/arbor/internal/app/system/mailer"
	"github.com/arborhq/arbor/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. At this point you have access to:
//   - coreCfg: WAFFLE core configuration (ports, env, timeouts, etc.)
//   - appCfg: app-specific configuration defined in AppConfig
//   - deps: any DB or backend clients bundled in DBDeps
//   - logger: the fully configured zap.Logger for this app
//
// Arbor mounts a JSON API: health and metrics endpoints, Google sign-in,
// the public invitation accept link, the identity webhook, and the
// session-protected thread/message/member routers.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Create the session manager using app config.
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	outbound := mailer.New(
		appCfg.MailSMTPHost, appCfg.MailSMTPPort,
		appCfg.MailSMTPUser, appCfg.MailSMTPPass,
		appCfg.MailFrom, appCfg.MailFromName,
		logger,
	)

	r := chi.NewRouter()

	// Global auth middleware: loads SessionUser into context if signed in.
	// This makes the current user available to all handlers via auth.CurrentUser(r).
	r.Use(sessionMgr.LoadSessionUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Authentication
	googleHandler := authgooglefeature.NewHandler(deps.MongoDatabase, sessionMgr,
		appCfg.GoogleClientID, appCfg.GoogleClientSecret, appCfg.BaseURL, logger)
	r.Mount("/auth/google", authgooglefeature.Routes(googleHandler))

	logoutHandler := logoutfeature.NewHandler(sessionMgr, logger)
	r.Mount("/logout", logoutfeature.Routes(logoutHandler, sessionMgr))

	// Unauthenticated surfaces get a per-IP limiter: accept links and
	// webhooks are where token guessing happens.
	publicLimiter := ratelimit.New(30, time.Minute)

	// Invitation accept links arrive from email, so no session is required.
	invitesHandler := invitesfeature.NewHandler(deps.MongoDatabase, logger)
	r.Group(func(r chi.Router) {
		r.Use(publicLimiter.Middleware)
		r.Mount("/invites", invitesfeature.Routes(invitesHandler))
	})

	// Identity webhook from the external auth provider, verified by HMAC.
	hooksHandler := hooksfeature.NewHandler(deps.MongoDatabase, appCfg.HookSecret, logger)
	r.Group(func(r chi.Router) {
		r.Use(publicLimiter.Middleware)
		r.Mount("/hooks", hooksfeature.Routes(hooksHandler))
	})

	// Thread API. The message and member routers hang off the thread router
	// so {threadID} resolves once for the whole subtree.
	threadsHandler := threadsfeature.NewHandler(deps.MongoDatabase, logger)
	messagesHandler := messagesfeature.NewHandler(deps.MongoDatabase, logger)
	membersHandler := membersfeature.NewHandler(deps.MongoDatabase, outbound,
		appCfg.BaseURL, appCfg.SiteName, logger)

	threadRouter := threadsfeature.Routes(threadsHandler)
	threadRouter.Mount("/{threadID}/messages", messagesfeature.Routes(messagesHandler))
	threadRouter.Mount("/{threadID}/members", membersfeature.Routes(membersHandler))

	r.Group(func(r chi.Router) {
		r.Use(sessionMgr.RequireSignedIn)
		r.Mount("/threads", threadRouter)
	})

	return r, nil
}
