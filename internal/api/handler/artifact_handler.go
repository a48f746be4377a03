package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/infrastructure/sqlite"
)

type ArtifactHandler struct {
	artifacts repository.ArtifactRepository
}

func NewArtifactHandler(artifacts repository.ArtifactRepository) *ArtifactHandler {
	return &ArtifactHandler{artifacts: artifacts}
}

func (h *ArtifactHandler) List(c *gin.Context) {
	listFilter, err := parseListFilter(c, sqlite.ArtifactFilterFields())
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	filter := repository.ArtifactFilter{ListFilter: listFilter}

	artifacts, err := h.artifacts.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	total, err := h.artifacts.Count(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	data := make([]dto.ArtifactResponse, 0, len(artifacts))
	for _, artifact := range artifacts {
		data = append(data, dto.NewArtifactResponse(artifact))
	}
	c.JSON(http.StatusOK, dto.ListResponse{
		Data: data, Total: total, Page: listFilter.Page, PerPage: listFilter.PerPage,
	})
}

func (h *ArtifactHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	artifact, err := h.artifacts.FindByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewArtifactResponse(artifact))
}
