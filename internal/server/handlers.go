package server

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/pkg/errors"
	"github.com/Aidin1998/amlscreen/pkg/validation"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(s.health))
	for name, p := range s.health {
		if err := p.Ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{
		"status":  status,
		"checks":  checks,
		"sources": s.service.Sources(),
	}
	if s.refresher != nil {
		body["lists"] = s.refresher.Status()
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, Response{Success: status == "ok", Data: body})
}

func (s *Server) handleScreen(c *gin.Context) {
	var req aml.ScreeningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	switch t := aml.ScreenType(c.Query("screen_type")); t {
	case "":
		req.ScreenType = aml.ScreenTypeManual
	case aml.ScreenTypeOnboarding, aml.ScreenTypeManual:
		req.ScreenType = t
	default:
		s.writeError(c, errors.Validation.Explain("invalid screen_type").
			WithField("oneof", "screen_type", "must be one of onboarding manual"))
		return
	}

	result, err := s.service.Screen(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, result)
}

func (s *Server) handleScreenHistory(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	history, err := s.service.ScreeningHistory(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, history)
}

func (s *Server) handleRiskScore(c *gin.Context) {
	a, err := s.service.CurrentAssessment(c.Request.Context(), c.Param("userId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, a)
}

func (s *Server) handleRiskHistory(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	history, err := s.service.AssessmentHistory(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, history)
}

func (s *Server) handleOverride(c *gin.Context) {
	var req aml.ScoreOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	req.By = subject(c)

	a, err := s.service.Override(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	created(c, a)
}

func (s *Server) handleGetMatrix(c *gin.Context) {
	ok(c, s.service.Matrix())
}

// handleUpdateMatrix applies the body on top of the current matrix, so sections left out are kept.
func (s *Server) handleUpdateMatrix(c *gin.Context) {
	next := s.service.Matrix().Clone()
	if err := c.ShouldBindJSON(next); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	published, err := s.service.UpdateMatrix(c.Request.Context(), next, subject(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	created(c, published)
}

var alertStatuses = []aml.AlertStatus{aml.AlertStatusOpen, aml.AlertStatusEscalated, aml.AlertStatusResolved, aml.AlertStatusDismissed}

func (s *Server) handleAlerts(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var statuses []aml.AlertStatus
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := aml.AlertStatus(strings.TrimSpace(part))
			if !slices.Contains(alertStatuses, st) {
				s.writeError(c, errors.Validation.Explain("invalid alert status %q", part).
					WithField("oneof", "status", "must be one of open escalated resolved dismissed"))
				return
			}
			statuses = append(statuses, st)
		}
	}

	alerts, err := s.service.Alerts(c.Request.Context(), c.Param("userId"), statuses, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, alerts)
}

func (s *Server) handleResolveAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("alertId"))
	if err != nil {
		s.writeError(c, errors.Validation.Explain("invalid alert id").WithField("uuid", "alertId", "must be a UUID"))
		return
	}
	var req aml.ResolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	req.ReviewedBy = subject(c)

	alert, err := s.service.ResolveAlert(c.Request.Context(), id, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, alert)
}

// handleRefreshList accepts a source kind ("sanctions") to refresh every feed of that kind,
// or a single feed ID ("ofac_sdn").
func (s *Server) handleRefreshList(c *gin.Context) {
	if s.refresher == nil {
		s.writeError(c, errors.NotFound.Explain("no reference feeds configured"))
		return
	}
	list := c.Param("list")
	ctx := c.Request.Context()

	kind := aml.SourceKind(list)
	if slices.Contains(aml.AllSources, kind) {
		if err := s.refresher.RefreshKind(ctx, kind); err != nil {
			s.writeError(c, errors.SourceUnavailable.Explain("refresh of %s failed", list).Wrap(err))
			return
		}
		ok(c, s.refresher.Status())
		return
	}

	st, err := s.refresher.Refresh(ctx, list)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			s.writeError(c, err)
			return
		}
		s.writeError(c, errors.SourceUnavailable.Explain("refresh of %s failed", list).Wrap(err))
		return
	}
	ok(c, st)
}

func (s *Server) handleListStatus(c *gin.Context) {
	if s.refresher == nil {
		ok(c, []any{})
		return
	}
	ok(c, s.refresher.Status())
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Validation.Explain("invalid limit").WithField("min", "limit", "must be a positive integer")
	}
	return n, nil
}

// bindError keeps validation errors from the binding validator and wraps decode failures.
func bindError(err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return err
	}
	return validation.FromValidator(err)
}
