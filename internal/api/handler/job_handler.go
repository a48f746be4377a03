package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/core/service"
	"github.com/pverhoef/dbvault/internal/infrastructure/sqlite"
)

type JobHandler struct {
	ledger    *service.LedgerService
	scheduler *service.SchedulerService
}

func NewJobHandler(ledger *service.LedgerService, scheduler *service.SchedulerService) *JobHandler {
	return &JobHandler{ledger: ledger, scheduler: scheduler}
}

func (h *JobHandler) List(c *gin.Context) {
	listFilter, err := parseListFilter(c, sqlite.JobFilterFields())
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	jobs, total, err := h.ledger.List(c.Request.Context(), repository.JobFilter{ListFilter: listFilter})
	if err != nil {
		c.Error(err)
		return
	}

	data := make([]dto.JobResponse, 0, len(jobs))
	for _, job := range jobs {
		data = append(data, dto.NewJobResponse(job))
	}
	c.JSON(http.StatusOK, dto.ListResponse{
		Data: data, Total: total, Page: listFilter.Page, PerPage: listFilter.PerPage,
	})
}

func (h *JobHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	job, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// Cancel requests cancellation. The response is the job as it stands; the
// terminal cancelled state lands asynchronously once the process is gone.
func (h *JobHandler) Cancel(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.scheduler.Cancel(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	job, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewJobResponse(job))
}
