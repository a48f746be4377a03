package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/core/service"
)

type PolicyHandler struct {
	policies *service.PolicyService
}

func NewPolicyHandler(policies *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{policies: policies}
}

func (h *PolicyHandler) Create(c *gin.Context) {
	var req dto.CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	policy := domain.NewPolicy(req.InstanceID, domain.BackupKind(req.Kind), req.Schedule)
	policy.RetentionCount = req.RetentionCount
	policy.RetentionDays = req.RetentionDays
	policy.MaxDurationSec = req.MaxDurationSec

	if err := h.policies.Create(c.Request.Context(), policy); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewPolicyResponse(policy))
}

func (h *PolicyHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	policy, err := h.policies.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPolicyResponse(policy))
}

func (h *PolicyHandler) List(c *gin.Context) {
	filter := repository.PolicyFilter{}
	if v := c.Query("instance_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid instance_id"})
			return
		}
		filter.InstanceID = &id
	}
	if v := c.Query("kind"); v != "" {
		kind := domain.BackupKind(v)
		filter.Kind = &kind
	}
	if v := c.Query("enabled"); v != "" {
		b := v == "true" || v == "1"
		filter.Enabled = &b
	}

	policies, total, err := h.policies.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	data := make([]dto.PolicyResponse, 0, len(policies))
	for _, policy := range policies {
		data = append(data, dto.NewPolicyResponse(policy))
	}
	c.JSON(http.StatusOK, dto.ListResponse{Data: data, Total: total, Page: 1, PerPage: len(data)})
}

func (h *PolicyHandler) Update(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	var req dto.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	policy, err := h.policies.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	if req.Schedule != nil {
		policy.Schedule = *req.Schedule
	}
	if req.RetentionCount != nil {
		policy.RetentionCount = req.RetentionCount
	}
	if req.RetentionDays != nil {
		policy.RetentionDays = req.RetentionDays
	}
	if req.MaxDurationSec != nil {
		policy.MaxDurationSec = req.MaxDurationSec
	}
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}

	if err := h.policies.Update(c.Request.Context(), policy); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPolicyResponse(policy))
}

func (h *PolicyHandler) Disable(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.policies.Disable(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
