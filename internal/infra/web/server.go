package web

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"code-redemption-platform/internal/infra/ratelimit"
	"code-redemption-platform/internal/infra/worker"
	"code-redemption-platform/internal/usecase"
)

// Server is the admin console API: issuance, import, processing and
// reporting. Everything sits behind the JWT session middleware and the
// admin rate limiter.
type Server struct {
	genUC    *usecase.GeneratorUseCase
	redeemUC *usecase.RedemptionUseCase
	batchUC  *usecase.BatchUseCase
	statsUC  *usecase.StatsUseCase

	auth     *AuthManager
	password string
	limiter  *ratelimit.Limiter
	pool     *worker.Pool

	asyncThreshold int
	log            *zerolog.Logger
}

func NewServer(
	genUC *usecase.GeneratorUseCase,
	redeemUC *usecase.RedemptionUseCase,
	batchUC *usecase.BatchUseCase,
	statsUC *usecase.StatsUseCase,
	auth *AuthManager,
	password string,
	limiter *ratelimit.Limiter,
	pool *worker.Pool,
	asyncThreshold int,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		genUC:          genUC,
		redeemUC:       redeemUC,
		batchUC:        batchUC,
		statsUC:        statsUC,
		auth:           auth,
		password:       password,
		limiter:        limiter,
		pool:           pool,
		asyncThreshold: asyncThreshold,
		log:            logger,
	}
}

// RegisterRoutes sets up the routing for the admin API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/api/login", s.handleLogin)
	mux.HandleFunc("/admin/api/logout", s.handleLogout)

	protect := func(h http.HandlerFunc) http.Handler {
		return s.throttle(s.authMiddleware(h))
	}
	mux.Handle("/admin/api/codes/issue", protect(s.handleIssue))
	mux.Handle("/admin/api/codes/import", protect(s.handleImport))
	mux.Handle("/admin/api/codes/process", protect(s.handleProcess))
	mux.Handle("/admin/api/codes/process-batch", protect(s.handleProcessBatch))
	mux.Handle("/admin/api/codes/delete-unused", protect(s.handleDeleteUnused))
	mux.Handle("/admin/api/codes", protect(s.handleList))
	mux.Handle("/admin/api/stats", protect(s.handleStats))
}

// authMiddleware gates every admin route on a valid session token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(withAdminID(r.Context(), claims.Subject))
		next.ServeHTTP(w, r)
	})
}

// throttle applies the admin rate limiter keyed by remote address.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.limiter.Check(remoteHost(r) + ":admin")
		if !res.Allowed {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if s.password == "" || !CheckPassword(req.Password, s.password) {
		s.log.Warn().Str("remote", remoteHost(r)).Msg("failed admin login")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		http.Error(w, "Failed to mint session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
