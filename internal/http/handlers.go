package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/engine"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// bind decodes and validates a request body.
func (s *Server) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := knowledge.ValidateStruct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// handleHealth reports liveness plus the engine snapshot.
func (s *Server) handleHealth(c echo.Context) error {
	h := s.service.Health(c.Request().Context())
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
		Engine:  &h,
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	ctx := logging.WithDomain(logging.WithTenantID(c.Request().Context(), req.Context.TenantID), req.Context.Domain)

	res, err := s.service.Query(ctx, req.Query, req.Context)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	verdict, err := effectiveness.ParseVerdict(req.Verdict)
	if err != nil {
		return err
	}
	err = s.service.RecordFeedback(logging.WithTenantID(c.Request().Context(), req.TenantID), effectiveness.Feedback{
		TenantID:   req.TenantID,
		Domain:     req.Domain,
		DocumentID: req.DocumentID,
		Verdict:    verdict,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{Status: "queued"})
}

func (s *Server) handleUsage(c echo.Context) error {
	var req UsageRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	err := s.service.RecordQueryUsage(logging.WithTenantID(c.Request().Context(), req.TenantID), effectiveness.Usage{
		TenantID:   req.TenantID,
		Domain:     req.Domain,
		DocumentID: req.DocumentID,
		Relevance:  req.Relevance,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{Status: "queued"})
}

func (s *Server) handleInitTenant(c echo.Context) error {
	tenantID := c.Param("tenant")
	var req TenantRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	welcome := req.Welcome == nil || *req.Welcome

	created, err := s.service.InitializeTenant(logging.WithTenantID(c.Request().Context(), tenantID), tenantID, req.Domains, welcome)
	if err != nil {
		return err
	}
	resp := TenantResponse{TenantID: tenantID, Partitions: make([]string, len(created))}
	for i, k := range created {
		resp.Partitions[i] = k.String()
	}
	status := http.StatusCreated
	if len(created) == 0 {
		status = http.StatusOK
	}
	return c.JSON(status, resp)
}

func (s *Server) handleTeardownTenant(c echo.Context) error {
	tenantID := c.Param("tenant")
	report, err := s.service.TeardownTenant(logging.WithTenantID(c.Request().Context(), tenantID), tenantID)
	if err != nil {
		return err
	}
	if len(report.Partitions) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "tenant has no partitions")
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleAddDocument(c echo.Context) error {
	var req DocumentRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	key, err := engine.PartitionFor(req.TenantID, req.Domain)
	if err != nil {
		return err
	}
	id, err := s.service.AddDocument(c.Request().Context(), key, req.Document)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, DocumentResponse{ID: id, Partition: key.String()})
}

// handleListDocuments lists a partition. Query parameters: tenant_id,
// domain, and the filter fields types, categories, priorities, segments and
// tags (comma separated) plus min_effectiveness.
func (s *Server) handleListDocuments(c echo.Context) error {
	key, err := engine.PartitionFor(c.QueryParam("tenant_id"), c.QueryParam("domain"))
	if err != nil {
		return err
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	docs, err := s.service.ListDocuments(c.Request().Context(), key, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DocumentsResponse{Partition: key.String(), Filter: f, Documents: docs})
}

func (s *Server) handleRemoveDocument(c echo.Context) error {
	key, err := engine.PartitionFor(c.QueryParam("tenant_id"), c.QueryParam("domain"))
	if err != nil {
		return err
	}
	if err := s.service.RemoveDocument(c.Request().Context(), key, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func filterFromQuery(c echo.Context) (partition.Filter, error) {
	var f partition.Filter
	for _, t := range splitList(c.QueryParam("types")) {
		f.Types = append(f.Types, knowledge.ContentType(t))
	}
	for _, p := range splitList(c.QueryParam("priorities")) {
		prio := knowledge.Priority(p)
		if !prio.Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unknown priority "+p)
		}
		f.Priorities = append(f.Priorities, prio)
	}
	f.Categories = splitList(c.QueryParam("categories"))
	f.CustomerSegments = splitList(c.QueryParam("segments"))
	f.Tags = splitList(c.QueryParam("tags"))
	if v := c.QueryParam("min_effectiveness"); v != "" {
		min, err := strconv.ParseFloat(v, 64)
		if err != nil || min < 0 || min > 1 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "min_effectiveness must be a number within [0,1]")
		}
		f.MinEffectiveness = min
	}
	return f, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
