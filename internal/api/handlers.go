package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleGetAllHealth returns every tracked endpoint, worst first
func (s *Server) handleGetAllHealth(c *gin.Context) {
	successResponse(c, s.tracker.GetAll())
}

// handleGetSourceHealth returns the health records for one source
func (s *Server) handleGetSourceHealth(c *gin.Context) {
	source := c.Param("source")

	var out []interface{}
	for _, h := range s.tracker.GetAll() {
		if h.Source == source {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		errorResponse(c, http.StatusNotFound, "unknown source: "+source)
		return
	}
	successResponse(c, out)
}

// handleGetErrors returns recent classified error events
func (s *Server) handleGetErrors(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := s.recentErrors(c.Request.Context(), c.Query("source"), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, events)
}

// handleGetSourceErrors returns recent events for one source
func (s *Server) handleGetSourceErrors(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := s.recentErrors(c.Request.Context(), c.Param("source"), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, events)
}

// handleGetAlerts returns open alerts plus recent history when persisted
func (s *Server) handleGetAlerts(c *gin.Context) {
	resp := gin.H{"open": s.alerts.Open()}

	if s.repo != nil {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		recent, err := s.repo.RecentAlerts(c.Request.Context(), limit)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		resp["recent"] = recent
	}
	successResponse(c, resp)
}

// handleGetStrategies returns every strategy with its learned counters
func (s *Server) handleGetStrategies(c *gin.Context) {
	successResponse(c, s.registry.AllStats())
}

// prediction pairs an endpoint with its failure probability
type prediction struct {
	Source             string  `json:"source"`
	Endpoint           string  `json:"endpoint"`
	Status             string  `json:"status"`
	FailureProbability float64 `json:"failure_probability"`
}

// handleGetPredictions returns failure probabilities for all tracked
// endpoints, riskiest first
func (s *Server) handleGetPredictions(c *gin.Context) {
	records := s.tracker.GetAll()
	out := make([]prediction, 0, len(records))
	for _, h := range records {
		out = append(out, prediction{
			Source:             h.Source,
			Endpoint:           h.Endpoint,
			Status:             string(h.Status),
			FailureProbability: s.learner.PredictFailureProbability(h.Source, h.Endpoint),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FailureProbability > out[j].FailureProbability
	})
	successResponse(c, out)
}

// handleGetKnowledge returns the learner's current knowledge base
func (s *Server) handleGetKnowledge(c *gin.Context) {
	successResponse(c, s.learner.Snapshot())
}

// handlePauseTarget stops checks for one target
func (s *Server) handlePauseTarget(c *gin.Context) {
	t, ok := s.monitor.GetTarget(c.Param("source"), c.Param("endpoint"))
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown target")
		return
	}
	t.Pause()
	successResponse(c, gin.H{"paused": true})
}

// handleResumeTarget restarts checks for a paused target
func (s *Server) handleResumeTarget(c *gin.Context) {
	t, ok := s.monitor.GetTarget(c.Param("source"), c.Param("endpoint"))
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown target")
		return
	}
	t.Resume()
	successResponse(c, gin.H{"paused": false})
}

// handleCheckTarget runs one immediate check outside the poll schedule
func (s *Server) handleCheckTarget(c *gin.Context) {
	t, ok := s.monitor.GetTarget(c.Param("source"), c.Param("endpoint"))
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown target")
		return
	}
	s.monitor.CheckOnce(t)

	h, _ := s.tracker.Get(t.Source, t.Endpoint)
	successResponse(c, h)
}
