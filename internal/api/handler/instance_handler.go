package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/core/service"
)

type InstanceHandler struct {
	instances *service.InstanceService
}

func NewInstanceHandler(instances *service.InstanceService) *InstanceHandler {
	return &InstanceHandler{instances: instances}
}

func (h *InstanceHandler) Create(c *gin.Context) {
	var req dto.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	instance := domain.NewInstance(req.Name, req.Host, req.Port, domain.InstanceRole(req.Role), req.CredentialsFile)
	if err := h.instances.Register(c.Request.Context(), instance); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewInstanceResponse(instance))
}

func (h *InstanceHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	instance, err := h.instances.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewInstanceResponse(instance))
}

func (h *InstanceHandler) List(c *gin.Context) {
	filter := repository.InstanceFilter{}
	if role := c.Query("role"); role != "" {
		r := domain.InstanceRole(role)
		filter.Role = &r
	}
	if active := c.Query("active"); active != "" {
		b := active == "true" || active == "1"
		filter.Active = &b
	}

	instances, total, err := h.instances.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	data := make([]dto.InstanceResponse, 0, len(instances))
	for _, instance := range instances {
		data = append(data, dto.NewInstanceResponse(instance))
	}
	c.JSON(http.StatusOK, dto.ListResponse{Data: data, Total: total, Page: 1, PerPage: len(data)})
}

func (h *InstanceHandler) Update(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	var req dto.UpdateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	instance, err := h.instances.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	if req.Host != nil {
		instance.Host = *req.Host
	}
	if req.Port != nil {
		instance.Port = *req.Port
	}
	if req.CredentialsFile != nil {
		instance.CredentialsFile = *req.CredentialsFile
	}

	if err := h.instances.Update(c.Request.Context(), instance); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewInstanceResponse(instance))
}

func (h *InstanceHandler) Deactivate(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.instances.Deactivate(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *InstanceHandler) HealthCheck(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	instance, err := h.instances.HealthCheck(c.Request.Context(), id)
	if err != nil {
		if instance != nil {
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: err.Error()})
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewInstanceResponse(instance))
}
