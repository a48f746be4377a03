package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/service"
)

type BackupHandler struct {
	scheduler *service.SchedulerService
}

func NewBackupHandler(scheduler *service.SchedulerService) *BackupHandler {
	return &BackupHandler{scheduler: scheduler}
}

// Trigger admits an ad-hoc backup and returns the pending job.
func (h *BackupHandler) Trigger(c *gin.Context) {
	var req dto.TriggerBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	kind := domain.BackupKind(req.Kind)
	if kind != domain.KindLogical && kind != domain.KindPhysical {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "kind must be logical or physical"})
		return
	}

	job, err := h.scheduler.TriggerBackup(c.Request.Context(), req.InstanceID, kind)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewJobResponse(job))
}
