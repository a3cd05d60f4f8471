package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/service"
)

// QueueHandler — тонкий HTTP-слой над QueueService: разбор запроса,
// вызов сервиса, маппинг ошибок в статусы.
type QueueHandler struct {
	svc *service.QueueService
}

func NewQueueHandler(svc *service.QueueService) *QueueHandler {
	return &QueueHandler{svc: svc}
}

type joinRequest struct {
	PatientName    string `json:"patient_name" binding:"required"`
	PatientContact string `json:"patient_contact"`
	Priority       string `json:"priority"`
}

func (h *QueueHandler) Join(c *gin.Context) {
	serviceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service id"})
		return
	}
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	prio := model.PriorityMedium
	if req.Priority != "" {
		p, ok := model.ParsePriority(req.Priority)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
			return
		}
		prio = p
	}
	t, err := h.svc.Join(c.Request.Context(), serviceID, req.PatientName, req.PatientContact, prio)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *QueueHandler) CallNext(c *gin.Context) {
	serviceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service id"})
		return
	}
	t, err := h.svc.CallNext(c.Request.Context(), serviceID)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *QueueHandler) Queue(c *gin.Context) {
	serviceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service id"})
		return
	}
	svc, waiting, err := h.svc.QueueState(c.Request.Context(), serviceID)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service": svc,
		"waiting": waiting,
	})
}

func (h *QueueHandler) GetTicket(c *gin.Context) {
	t, err := h.svc.GetTicket(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *QueueHandler) Cancel(c *gin.Context) {
	t, err := h.svc.Cancel(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *QueueHandler) Complete(c *gin.Context) {
	t, err := h.svc.Complete(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type priorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

func (h *QueueHandler) SetPriority(c *gin.Context) {
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	prio, ok := model.ParsePriority(req.Priority)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
		return
	}
	t, err := h.svc.SetPriority(c.Request.Context(), c.Param("number"), prio)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func writeQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrTicketNotFound), errors.Is(err, errs.ErrServiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrInvalidTransition), errors.Is(err, errs.ErrServiceUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrQueueEmpty):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrQueueConflict):
		// Ретраи исчерпаны, очередь в последнем консистентном состоянии.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
