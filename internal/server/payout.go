package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListEarnings(c *gin.Context) {
	payeeID, ok := parseID(c, "payee_id")
	if !ok {
		return
	}
	records, err := s.earningsSvc.ListByPayee(c.Request.Context(), payeeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, records)
}

func (s *Server) ListPayouts(c *gin.Context) {
	payeeID, ok := parseID(c, "payee_id")
	if !ok {
		return
	}
	batches, err := s.payoutSvc.ListByPayee(c.Request.Context(), payeeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, batches)
}

type runPayoutsRequest struct {
	WeekStart string `json:"week_start" binding:"required"`
}

// RunPayouts triggers the weekly batch run for an explicit week, for
// operators re-running a period outside the scheduler.
func (s *Server) RunPayouts(c *gin.Context) {
	var req runPayoutsRequest
	if !bindJSON(c, &req) {
		return
	}

	weekStart, err := time.Parse(time.RFC3339, req.WeekStart)
	if err != nil {
		AbortWithError(c, newValidationError("week_start", "invalid_time", "week_start must be RFC3339"))
		return
	}

	batches, err := s.payoutSvc.RunWeek(c.Request.Context(), weekStart)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, batches)
}

func (s *Server) MarkPayoutPaid(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	batch, err := s.payoutSvc.MarkPaid(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, batch)
}
