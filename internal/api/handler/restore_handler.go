package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/service"
)

type RestoreHandler struct {
	restores *service.RestoreService
}

func NewRestoreHandler(restores *service.RestoreService) *RestoreHandler {
	return &RestoreHandler{restores: restores}
}

// Plan resolves a restore without executing it, so operators can inspect
// what would run.
func (h *RestoreHandler) Plan(c *gin.Context) {
	instanceID, err := strconv.ParseInt(c.Query("instance_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid instance_id"})
		return
	}
	target, err := time.Parse(time.RFC3339, c.Query("target"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "target must be RFC 3339"})
		return
	}

	plan, err := h.restores.Plan(c.Request.Context(), instanceID, target)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRestorePlanResponse(plan))
}

// Trigger starts a restore and returns its job.
func (h *RestoreHandler) Trigger(c *gin.Context) {
	var req dto.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	job, err := h.restores.Trigger(c.Request.Context(), service.RestoreRequest{
		InstanceID: req.InstanceID,
		Target:     req.Target,
		StagingDir: req.StagingDir,
		DataDir:    req.DataDir,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewJobResponse(job))
}
