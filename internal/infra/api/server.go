package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/infra/logging"
	"code-redemption-platform/internal/infra/metrics"
	"code-redemption-platform/internal/infra/ratelimit"
	"code-redemption-platform/internal/usecase"
)

// Server is the public-facing surface: end users redeem PINs and verify
// serials here. Every mutating route sits behind its own rate limiter.
type Server struct {
	redeemUC *usecase.RedemptionUseCase
	verifyUC *usecase.VerificationUseCase

	redeemLimiter *ratelimit.Limiter
	verifyLimiter *ratelimit.Limiter

	log *zerolog.Logger
}

func NewServer(
	redeemUC *usecase.RedemptionUseCase,
	verifyUC *usecase.VerificationUseCase,
	redeemLimiter, verifyLimiter *ratelimit.Limiter,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		redeemUC:      redeemUC,
		verifyUC:      verifyUC,
		redeemLimiter: redeemLimiter,
		verifyLimiter: verifyLimiter,
		log:           logger,
	}
}

// Router assembles the public routes with the middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(h http.Handler) http.Handler {
		return Chain(h, TraceID(), RequestLog(s.log), Recover(s.log), Timeout(10*time.Second))
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.With(toChi(RateLimit(s.redeemLimiter, "redeem"))).
		Post("/api/v1/redeem", s.handleRedeem)
	r.With(toChi(RateLimit(s.verifyLimiter, "verify"))).
		Post("/api/v1/verify", s.handleVerify)

	return r
}

func toChi(m Middleware) func(http.Handler) http.Handler { return m }

type redeemRequest struct {
	Code      string `json:"code"`
	ActorName string `json:"actor_name"`
	ActorID   string `json:"actor_id"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code, err := s.redeemUC.Redeem(r.Context(), req.Code, usecase.RedemptionActor{
		Name:       req.ActorName,
		ExternalID: req.ActorID,
	})
	if err != nil {
		s.writeRedeemError(w, r, req.Code, err)
		return
	}
	recordConsume("redeem", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":        code.Value,
		"redeemed_at": code.Redemption.RedeemedAt,
	})
}

// writeRedeemError keeps the caller-distinguishable outcomes apart: a wrong
// code, a code someone else already used, and throttling each get their own
// status and message.
func (s *Server) writeRedeemError(w http.ResponseWriter, r *http.Request, value string, err error) {
	l := logging.With(r.Context(), s.log)
	switch {
	case errors.Is(err, domain.ErrLowercaseCode):
		recordConsume("redeem", "invalid_format")
		writeError(w, http.StatusBadRequest, "codes are upper-case only; check for lowercase letters")
	case errors.Is(err, domain.ErrInvalidLength):
		recordConsume("redeem", "invalid_format")
		writeError(w, http.StatusBadRequest, "code has the wrong length")
	case errors.Is(err, domain.ErrInvalidFormat):
		recordConsume("redeem", "invalid_format")
		writeError(w, http.StatusBadRequest, "code contains invalid characters")
	case errors.Is(err, domain.ErrNotFound):
		recordConsume("redeem", "not_found")
		writeError(w, http.StatusNotFound, "code not found")
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		// Expected under concurrent use; never logged at error severity.
		recordConsume("redeem", "already_used")
		l.Info().Str("code", logging.RedactCode(value, false)).Msg("redeem attempt on used code")
		writeError(w, http.StatusConflict, "code was already redeemed")
	default:
		recordConsume("redeem", "error")
		l.Error().Err(err).Msg("redeem failed")
		writeError(w, http.StatusInternalServerError, "redemption failed")
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cc := usecase.CallerContext{
		IP:             clientIP(r),
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
	code, err := s.verifyUC.Verify(r.Context(), req.Code, cc)
	if err != nil {
		s.writeVerifyError(w, r, err)
		return
	}
	recordConsume("verify", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":        code.Value,
		"verified_at": code.Verification.VerifiedAt,
	})
}

func (s *Server) writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	l := logging.With(r.Context(), s.log)
	var already *domain.AlreadyVerifiedError
	switch {
	case errors.Is(err, domain.ErrInvalidFormat):
		recordConsume("verify", "invalid_format")
		writeError(w, http.StatusBadRequest, "serial number has the wrong format")
	case errors.As(err, &already):
		recordConsume("verify", "already_used")
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":       "serial was already verified",
			"verified_at": already.VerifiedAt,
		})
	case errors.Is(err, domain.ErrNotFoundOrInactive):
		recordConsume("verify", "not_found")
		writeError(w, http.StatusNotFound, "serial number not found or inactive")
	default:
		recordConsume("verify", "error")
		l.Error().Err(err).Msg("verify failed")
		writeError(w, http.StatusInternalServerError, "verification failed")
	}
}

func recordConsume(op, outcome string) { metrics.IncConsume(op, outcome) }

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
