package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"audience-sync/internal/audience"
	"audience-sync/internal/cache"
	"audience-sync/internal/insights"
	"audience-sync/internal/pipeline"

	"github.com/go-playground/validator/v10"
)

type syncRequest struct {
	Name        string   `json:"name" validate:"omitempty,max=200"`
	Description string   `json:"description" validate:"omitempty,max=1000"`
	Phones      []string `json:"phones" validate:"required,min=1,dive,required,max=64"`
}

type lookalikeRequest struct {
	SourceName string  `json:"source_name" validate:"omitempty,max=200"`
	Name       string  `json:"name" validate:"omitempty,max=200"`
	Country    string  `json:"country" validate:"omitempty,len=2,alpha"`
	Ratio      float64 `json:"ratio" validate:"omitempty,gte=0.01,lte=0.2"`
}

func (s *Server) apiRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/audiences/sync", s.post(s.handleSync))
	mux.HandleFunc("/api/audiences/lookalike", s.post(s.handleLookalike))
	mux.HandleFunc("/api/run", s.post(s.handleRun))
	mux.HandleFunc("/api/metrics/collect", s.post(s.handleCollectMetrics))
	mux.HandleFunc("/api/metrics/latest", s.get(s.handleLatestMetrics))
	mux.HandleFunc("/api/campaigns", s.get(s.handleCampaigns))
	mux.HandleFunc("/api/audiences", s.get(s.handleAudiences))
	mux.HandleFunc("/api/insights", s.get(s.handleInsights))
	return mux
}

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return methodOnly(http.MethodPost, h)
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return methodOnly(http.MethodGet, h)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, pipeline.Result{Message: "method not allowed"})
			return
		}
		h(w, r)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeResult(w, s.deps.Pipeline.Sync(r.Context(), pipeline.SyncRequest{
		Name:        req.Name,
		Description: req.Description,
		Phones:      req.Phones,
	}))
}

func (s *Server) handleLookalike(w http.ResponseWriter, r *http.Request) {
	var req lookalikeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeResult(w, s.deps.Pipeline.Lookalike(r.Context(), pipeline.LookalikeRequest{
		SourceName: req.SourceName,
		Name:       req.Name,
		Country:    req.Country,
		Ratio:      req.Ratio,
	}))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Phones == nil {
		writeJSON(w, http.StatusInternalServerError, pipeline.Result{Message: "PHONES_FILE is not configured"})
		return
	}
	phones, err := s.deps.Phones()
	if err != nil {
		s.logger.Error("failed loading phones", "error", err)
		writeJSON(w, http.StatusInternalServerError, pipeline.Result{Message: fmt.Sprintf("load phones: %v", err)})
		return
	}
	s.writeResult(w, s.deps.Pipeline.RunScheduled(r.Context(), phones))
}

func (s *Server) handleCollectMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.deps.Pipeline.CollectMetrics(r.Context()))
}

func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.deps.Pipeline.LatestSnapshot(r.Context())
	if !ok {
		writeJSON(w, http.StatusNotFound, pipeline.Result{Message: "no metrics snapshot stored"})
		return
	}
	writeJSON(w, http.StatusOK, pipeline.Result{Success: true, Message: "latest metrics snapshot", Data: snap})
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.deps.Pipeline.Campaigns(r.Context()))
}

func (s *Server) handleAudiences(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.deps.Pipeline.Audiences(r.Context()))
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.writeResult(w, s.deps.Pipeline.Insights(r.Context(), insights.Query{
		Level:       q.Get("level"),
		ObjectIDs:   splitList(q.Get("ids")),
		CampaignIDs: splitList(q.Get("campaign_ids")),
		Fields:      splitList(q.Get("fields")),
		DatePreset:  q.Get("date_preset"),
		Since:       q.Get("since"),
		Until:       q.Get("until"),
		Statuses:    splitList(q.Get("status")),
	}))
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.Result{Message: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	if err := s.validate.Struct(dest); err != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.Result{Message: validationMessage(err)})
		return false
	}
	return true
}

func (s *Server) writeResult(w http.ResponseWriter, res pipeline.Result) {
	writeJSON(w, statusFor(res), res)
}

func statusFor(res pipeline.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case errors.Is(res.Err, audience.ErrValidation), errors.Is(res.Err, insights.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(res.Err, cache.ErrLockHeld):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
