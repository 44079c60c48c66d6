package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
)

// ErrorResponse is the error envelope for every non-2xx reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code plus a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fail(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

// graphError maps the structural graph error taxonomy onto statuses.
func graphError(c *gin.Context, err error) {
	var cycleErr *domain.CycleError
	var unknownErr *domain.UnknownNodeError
	var transitionErr *domain.InvalidTransitionError
	switch {
	case errors.As(err, &cycleErr):
		fail(c, http.StatusConflict, "CYCLE", err)
	case errors.As(err, &unknownErr):
		fail(c, http.StatusNotFound, "UNKNOWN_NODE", err)
	case errors.As(err, &transitionErr):
		fail(c, http.StatusConflict, "INVALID_TRANSITION", err)
	case errors.Is(err, domain.ErrItemNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", err)
	default:
		fail(c, http.StatusInternalServerError, "INTERNAL", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"workers":   len(s.hub.Workers()),
	})
}

// GraphSubmitRequest asks for a description to be decomposed and
// materialized into work items.
type GraphSubmitRequest struct {
	Description string `json:"description" binding:"required"`
	// DryRun returns the proposed nodes without materializing them.
	DryRun bool `json:"dryRun"`
}

func (s *Server) handleSubmitGraph(c *gin.Context) {
	var req GraphSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	nodes, err := s.builder.GenerateFromDescription(c.Request.Context(), req.Description)
	if err != nil {
		fail(c, http.StatusBadGateway, "GENERATION_FAILED", err)
		return
	}
	if req.DryRun {
		c.JSON(http.StatusOK, gin.H{"nodes": nodes})
		return
	}

	itemIDs, err := s.builder.MaterializeGraph(c.Request.Context(), nodes)
	if err != nil {
		s.logger.Error("graph materialization failed", zap.Error(err))
		fail(c, http.StatusUnprocessableEntity, "MATERIALIZATION_FAILED", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"nodes":   nodes,
		"itemIds": itemIDs,
	})
}

// ItemCreateRequest creates one ad hoc work item, outside any workflow.
type ItemCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Affinity    string `json:"affinity"`
}

func (s *Server) handleCreateItem(c *gin.Context) {
	var req ItemCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	item := domain.NewWorkItem(req.Title)
	item.Description = req.Description
	item.Affinity = req.Affinity
	if err := s.store.Insert(c.Request.Context(), item); err != nil {
		graphError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleListItems(c *gin.Context) {
	var items []*domain.WorkItem
	if workflowID := c.Query("workflow"); workflowID != "" {
		items = s.store.ListByWorkflow(workflowID)
	} else {
		items = s.store.List()
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func (s *Server) handleGetItem(c *gin.Context) {
	item, err := s.store.Get(c.Param("id"))
	if err != nil {
		graphError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleCancelItem(c *gin.Context) {
	itemID := c.Param("id")
	notifyWorker, err := s.lifecycle.Cancel(c.Request.Context(), itemID)
	if err != nil {
		graphError(c, err)
		return
	}
	if notifyWorker {
		s.hub.Abandon(itemID)
	}
	c.JSON(http.StatusOK, gin.H{
		"itemId": itemID,
		"state":  domain.ItemCancelled,
	})
}

func (s *Server) handleClearItem(c *gin.Context) {
	if err := s.store.Clear(c.Request.Context(), c.Param("id")); err != nil {
		graphError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DependencyRequest adds a blocks edge: the item cannot start until
// dependsOn succeeds.
type DependencyRequest struct {
	DependsOn string            `json:"dependsOn" binding:"required"`
	Policy    domain.EdgePolicy `json:"policy"`
}

func (s *Server) handleAddDependency(c *gin.Context) {
	var req DependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	if req.Policy != "" && req.Policy != domain.PolicyHard && req.Policy != domain.PolicySoft {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", errors.New("policy must be hard or soft"))
		return
	}

	err := s.resolver.AddDependency(c.Request.Context(), c.Param("id"), req.DependsOn, domain.EdgeBlocks, req.Policy)
	if err != nil {
		graphError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveDependency(c *gin.Context) {
	if err := s.resolver.RemoveDependency(c.Request.Context(), c.Param("id"), c.Param("dep")); err != nil {
		graphError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListEdges(c *gin.Context) {
	edges := s.store.Edges()
	c.JSON(http.StatusOK, gin.H{
		"edges": edges,
		"total": len(edges),
	})
}

func (s *Server) handleListWorkers(c *gin.Context) {
	workers := s.hub.Workers()
	c.JSON(http.StatusOK, gin.H{
		"workers": workers,
		"total":   len(workers),
	})
}

// BroadcastConfigRequest pushes an opaque configuration payload to every
// connected worker.
type BroadcastConfigRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
}

func (s *Server) handleBroadcastConfig(c *gin.Context) {
	var req BroadcastConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	receivers := s.hub.BroadcastConfig(req.Payload)
	c.JSON(http.StatusAccepted, gin.H{"receivers": receivers})
}

// BroadcastUpdateRequest announces a new worker artifact version.
type BroadcastUpdateRequest struct {
	Version          string `json:"version" binding:"required"`
	ArtifactLocation string `json:"artifactLocation" binding:"required"`
}

func (s *Server) handleBroadcastUpdate(c *gin.Context) {
	var req BroadcastUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	receivers := s.hub.BroadcastUpdate(req.Version, req.ArtifactLocation)
	c.JSON(http.StatusAccepted, gin.H{"receivers": receivers})
}

// TriggerCreateRequest registers a recurring cron trigger carrying either a
// stored node template or a description expanded at fire time.
type TriggerCreateRequest struct {
	Name        string             `json:"name" binding:"required"`
	Expr        string             `json:"expr" binding:"required"`
	Description string             `json:"description"`
	Template    []domain.GraphNode `json:"template"`
}

func (s *Server) handleCreateTrigger(c *gin.Context) {
	var req TriggerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	trigger, err := s.scheduler.Create(c.Request.Context(), req.Name, req.Expr, req.Description, req.Template)
	if err != nil {
		var malformed *domain.MalformedTriggerError
		if errors.As(err, &malformed) {
			fail(c, http.StatusBadRequest, "MALFORMED_TRIGGER", err)
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL", err)
		return
	}
	c.JSON(http.StatusCreated, trigger)
}

func (s *Server) handleListTriggers(c *gin.Context) {
	list, err := s.scheduler.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"triggers": list,
		"total":    len(list),
	})
}

func (s *Server) handleGetTrigger(c *gin.Context) {
	trigger, err := s.scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			fail(c, http.StatusNotFound, "NOT_FOUND", err)
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL", err)
		return
	}
	c.JSON(http.StatusOK, trigger)
}

func (s *Server) handleEnableTrigger(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		trigger, err := s.scheduler.SetEnabled(c.Request.Context(), c.Param("id"), enabled)
		if err != nil {
			if errors.Is(err, domain.ErrTriggerNotFound) {
				fail(c, http.StatusNotFound, "NOT_FOUND", err)
				return
			}
			var malformed *domain.MalformedTriggerError
			if errors.As(err, &malformed) {
				fail(c, http.StatusBadRequest, "MALFORMED_TRIGGER", err)
				return
			}
			fail(c, http.StatusInternalServerError, "INTERNAL", err)
			return
		}
		c.JSON(http.StatusOK, trigger)
	}
}

func (s *Server) handleDeleteTrigger(c *gin.Context) {
	if err := s.scheduler.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL", err)
		return
	}
	c.Status(http.StatusNoContent)
}
