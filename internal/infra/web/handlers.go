package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
	"code-redemption-platform/internal/infra/metrics"
)

type issueRequest struct {
	Kind          string `json:"kind"` // "pin" | "serial"
	Count         int    `json:"count"`
	Prefix        string `json:"prefix"`
	Length        int    `json:"length"`
	Width         int    `json:"width"`
	Start         *int64 `json:"start"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// handleIssue creates a batch of PINs or a serial range. Requests above the
// async threshold are handed to the worker pool and acknowledged with a job
// id; completion is observable through the batch listing and logs.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	adminID := adminIDFrom(r.Context())

	switch req.Kind {
	case "serial":
		report, err := s.genUC.IssueSerials(r.Context(), req.Count, req.Width, req.Start, adminID)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		metrics.IncIssued("serial", "sequential", report.Created)
		writeJSON(w, http.StatusCreated, report)

	case "pin", "":
		var expiresAt *time.Time
		if req.ExpiresInDays > 0 {
			t := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
			expiresAt = &t
		}
		if req.Count > s.asyncThreshold {
			s.issueAsync(w, r, req, adminID, expiresAt)
			return
		}
		report, err := s.genUC.IssuePins(r.Context(), req.Count, req.Prefix, req.Length, adminID, expiresAt)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		metrics.IncIssued("pin", "random", len(report.Values))
		writeJSON(w, http.StatusCreated, report)

	default:
		http.Error(w, "unknown code kind", http.StatusBadRequest)
	}
}

func (s *Server) issueAsync(w http.ResponseWriter, r *http.Request, req issueRequest, adminID string, expiresAt *time.Time) {
	jobID := ulid.Make().String()
	task := func(ctx context.Context) error {
		report, err := s.genUC.IssuePins(ctx, req.Count, req.Prefix, req.Length, adminID, expiresAt)
		if err != nil {
			return err
		}
		metrics.IncIssued("pin", "random", len(report.Values))
		s.log.Info().Str("job_id", jobID).Str("batch_id", report.BatchID).
			Int("count", len(report.Values)).Msg("async issuance complete")
		return nil
	}
	if err := s.pool.Submit(task); err != nil {
		http.Error(w, "issuance queue full, retry later", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Rows []string `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	report, err := s.genUC.Import(r.Context(), req.Rows, adminIDFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	metrics.IncIssued("pin", "import", report.Imported)
	metrics.AddImportRows("imported", report.Imported)
	metrics.AddImportRows("rejected", len(report.RowErrors))

	resp := struct {
		BatchID  string `json:"batch_id"`
		Imported int    `json:"imported"`
		Errors   []struct {
			Row    int    `json:"row"`
			Reason string `json:"reason"`
		} `json:"errors"`
	}{BatchID: report.BatchID, Imported: report.Imported}
	for _, re := range report.RowErrors {
		resp.Errors = append(resp.Errors, struct {
			Row    int    `json:"row"`
			Reason string `json:"reason"`
		}{Row: re.Row, Reason: re.Reason.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	code, err := s.redeemUC.Process(r.Context(), req.ID, adminIDFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	metrics.AddBatchProcessed(1)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           code.ID,
		"processed_at": code.ProcessedBy.ProcessedAt,
	})
}

func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.batchUC.ProcessBatch(r.Context(), req.IDs, adminIDFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	metrics.AddBatchProcessed(result.ProcessedCount)

	resp := map[string]interface{}{
		"processed_count": result.ProcessedCount,
		"processed_at":    result.ProcessedAt,
		"processed_ids":   idsOf(result.Processed),
	}
	if result.ProcessedCount == 0 {
		// Normal outcome of a double submission, not an error.
		resp["message"] = "no unprocessed redeemed codes matched; nothing to do"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteUnused(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	deleted, err := s.redeemUC.DeleteUnused(r.Context(), req.IDs)
	if err != nil {
		var usedErr *domain.UsedCodesError
		if errors.As(err, &usedErr) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":    "batch contains already-used codes; nothing was deleted",
				"used_ids": usedErr.UsedIDs,
			})
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := repository.ListFilter{
		Kind:    model.CodeKind(q.Get("kind")),
		BatchID: q.Get("batch"),
		Prefix:  q.Get("prefix"),
	}
	if v := q.Get("used"); v != "" {
		b := v == "true"
		f.Used = &b
	}
	if v := q.Get("processed"); v != "" {
		b := v == "true"
		f.Processed = &b
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	codes, err := s.statsUC.List(r.Context(), f, offset, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeViews(codes))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.statsUC.Totals(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeDomainError maps the shared taxonomy onto admin-facing statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidFormat), errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrBatchTooLarge):
		http.Error(w, "batch exceeds the processing cap", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "code not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotYetUsed):
		http.Error(w, "code has not been redeemed yet", http.StatusConflict)
	case errors.Is(err, domain.ErrAlreadyProcessed):
		http.Error(w, "code already processed", http.StatusConflict)
	case errors.Is(err, domain.ErrKeyspaceExhausted):
		http.Error(w, "could not find free code values; shorten the prefix or raise the length", http.StatusConflict)
	case errors.Is(err, domain.ErrDuplicateOnInsert):
		http.Error(w, "persistent duplicate collisions; retry the request", http.StatusConflict)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("admin operation failed")
		http.Error(w, "operation failed", http.StatusInternalServerError)
	}
}

// ---- view helpers ----

type codeView struct {
	ID          string     `json:"id"`
	Value       string     `json:"value"`
	Kind        string     `json:"kind"`
	BatchID     string     `json:"batch_id"`
	IsActive    bool       `json:"is_active"`
	Used        bool       `json:"used"`
	Processed   bool       `json:"processed"`
	RedeemedAt  *time.Time `json:"redeemed_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func toCodeViews(codes []*model.Code) []codeView {
	out := make([]codeView, 0, len(codes))
	for _, c := range codes {
		v := codeView{
			ID:        c.ID,
			Value:     c.Value,
			Kind:      string(c.Kind),
			BatchID:   c.BatchID,
			IsActive:  c.IsActive,
			Used:      c.Used,
			Processed: c.Processed,
			CreatedAt: c.CreatedAt,
			ExpiresAt: c.ExpiresAt,
		}
		if c.Redemption != nil {
			t := c.Redemption.RedeemedAt
			v.RedeemedAt = &t
		}
		if c.Verification != nil {
			t := c.Verification.VerifiedAt
			v.VerifiedAt = &t
		}
		if c.ProcessedBy != nil {
			t := c.ProcessedBy.ProcessedAt
			v.ProcessedAt = &t
		}
		out = append(out, v)
	}
	return out
}

func idsOf(codes []*model.Code) []string {
	ids := make([]string, len(codes))
	for i, c := range codes {
		ids[i] = c.ID
	}
	return ids
}

// ---- small plumbing shared by the admin handlers ----

type adminCtxKey struct{}

func withAdminID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, adminCtxKey{}, id)
}

func adminIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(adminCtxKey{}).(string); ok {
		return v
	}
	return "admin"
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
