package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"careercraft-billing/internal/infra/logging"
	"careercraft-billing/internal/infra/redis"
	"careercraft-billing/internal/infra/worker"
	"careercraft-billing/internal/usecase"
)

type ctxKey int

const claimsKey ctxKey = iota

// Server wires the billing HTTP surface: the payment/subscription API for
// authenticated users, the unauthenticated (signature-checked) webhook
// endpoint and the operational endpoints.
type Server struct {
	paymentUC usecase.PaymentUseCase
	subUC     usecase.SubscriptionUseCase
	webhookUC usecase.WebhookUseCase

	auth    *AuthManager
	limiter *redis.RateLimiter
	pool    *worker.Pool

	webhookSecret   string
	rateLimitPerMin int

	log *zerolog.Logger
}

func NewServer(
	paymentUC usecase.PaymentUseCase,
	subUC usecase.SubscriptionUseCase,
	webhookUC usecase.WebhookUseCase,
	auth *AuthManager,
	limiter *redis.RateLimiter,
	pool *worker.Pool,
	webhookSecret string,
	rateLimitPerMin int,
	logger *zerolog.Logger,
) *Server {
	srvLog := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		paymentUC:       paymentUC,
		subUC:           subUC,
		webhookUC:       webhookUC,
		auth:            auth,
		limiter:         limiter,
		pool:            pool,
		webhookSecret:   webhookSecret,
		rateLimitPerMin: rateLimitPerMin,
		log:             &srvLog,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.traceMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// the gateway authenticates with an HMAC over the body, not a JWT
	r.Post("/api/v1/webhooks/razorpay", s.webhookHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.rateLimitMiddleware)

			r.Post("/subscription/create-order", s.createOrderHandler)
			r.Post("/subscription/verify-payment", s.verifyPaymentHandler)
			r.Get("/subscription/order/{orderID}/status", s.orderStatusHandler)
			r.Get("/subscription/billing-history", s.billingHistoryHandler)

			r.Get("/subscription", s.usageHandler)
			r.Get("/subscription/usage", s.usageHandler)
			r.Post("/subscription/cancel", s.cancelHandler)
			r.Post("/subscription/upgrade", s.upgradePreviewHandler)
			r.Post("/subscription/trial/start", s.startTrialHandler)
			r.Post("/subscription/trial/cancel", s.cancelTrialHandler)
			r.Post("/subscription/credits/deduct", s.deductCreditsHandler)

			r.Get("/subscription/referral-code", s.referralCodeHandler)
			r.Post("/subscription/referral-code/apply", s.applyReferralHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.adminOnly)
			r.Post("/payments/{orderID}/refund", s.refundHandler)
		})
	})
	return r
}

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Request-Id", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.With(r.Context(), s.log).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// authMiddleware parses the bearer token and stores the claims plus the user
// id (for log correlation) on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = logging.WithUserID(ctx, claims.UserID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := claimsFrom(r.Context()); claims == nil || !claims.Admin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware is per user per route. A Redis outage fails open: the
// payment path must not go down with the cache.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		claims := claimsFrom(r.Context())
		key := redis.UserRouteKey(claims.UserID(), r.URL.Path)
		allowed, err := s.limiter.Allow(r.Context(), key, s.rateLimitPerMin, time.Minute)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter unavailable, failing open")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(ctx context.Context) *UserClaims {
	claims, _ := ctx.Value(claimsKey).(*UserClaims)
	return claims
}
