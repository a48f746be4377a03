package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/core/service"
)

type StreamHandler struct {
	streams  repository.StreamSessionRepository
	streamer *service.StreamerService
}

func NewStreamHandler(streams repository.StreamSessionRepository, streamer *service.StreamerService) *StreamHandler {
	return &StreamHandler{streams: streams, streamer: streamer}
}

func (h *StreamHandler) List(c *gin.Context) {
	filter := repository.StreamFilter{}
	if v := c.Query("instance_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid instance_id"})
			return
		}
		filter.InstanceID = &id
	}

	sessions, err := h.streams.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	data := make([]dto.StreamSessionResponse, 0, len(sessions))
	for _, session := range sessions {
		data = append(data, dto.NewStreamSessionResponse(session))
	}
	c.JSON(http.StatusOK, dto.ListResponse{Data: data, Total: len(data), Page: 1, PerPage: len(data)})
}

func (h *StreamHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	session, err := h.streams.FindByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewStreamSessionResponse(session))
}

// Resync abandons the current capture position and restarts from the
// server's live coordinates.
func (h *StreamHandler) Resync(c *gin.Context) {
	instanceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid instance id"})
		return
	}

	session, err := h.streamer.Resync(c.Request.Context(), instanceID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewStreamSessionResponse(session))
}
