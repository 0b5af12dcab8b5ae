package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/services"
	"clinic-phone/internal/storage"
	"clinic-phone/internal/transport/httpdto"
	"clinic-phone/internal/validation"
	phone_errors "clinic-phone/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Archiver uploads the diagnostic log and history on demand.
type Archiver interface {
	Upload(ctx context.Context) (storage.ArchiveResult, error)
}

// PhoneHandler exposes the phone action surface and read-only state.
type PhoneHandler struct {
	service   *services.PhoneService
	validator *validation.Validator
	archiver  Archiver
}

func NewPhoneHandler(service *services.PhoneService, validator *validation.Validator, archiver Archiver) *PhoneHandler {
	return &PhoneHandler{service: service, validator: validator, archiver: archiver}
}

func (h *PhoneHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Snapshot()))
}

func (h *PhoneHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Status()))
}

func (h *PhoneHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Stats()))
}

func (h *PhoneHandler) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Capabilities(c.Query("call_id"))))
}

func (h *PhoneHandler) Register(c *gin.Context) {
	if err := h.service.Register(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Status()))
}

func (h *PhoneHandler) Unregister(c *gin.Context) {
	if err := h.service.Unregister(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Status()))
}

func (h *PhoneHandler) Dial(c *gin.Context) {
	var req httpdto.DialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	item, err := h.service.Dial(c.Request.Context(), req.Target, services.DialOptions{
		DisplayName: req.DisplayName,
		Association: req.Association,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(item))
}

func (h *PhoneHandler) Redial(c *gin.Context) {
	item, err := h.service.RedialLast(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(item))
}

func (h *PhoneHandler) GetCall(c *gin.Context) {
	item, ok := h.service.Store().Call(c.Param("id"))
	if !ok {
		writeError(c, phone_errors.NewCallError(c.Param("id"), phone_errors.CodeCallNotFound, "unknown call"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *PhoneHandler) Answer(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Answer(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CallIDResponse{CallID: id}))
}

func (h *PhoneHandler) Hangup(c *gin.Context) {
	var req httpdto.HangupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	id := c.Param("id")
	if err := h.service.Hangup(c.Request.Context(), id, req.Disposition); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CallIDResponse{CallID: id}))
}

func (h *PhoneHandler) Hold(c *gin.Context) {
	var req httpdto.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	id := c.Param("id")
	if err := h.service.Hold(c.Request.Context(), id, *req.On); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CallIDResponse{CallID: id}))
}

func (h *PhoneHandler) Mute(c *gin.Context) {
	var req httpdto.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	id := c.Param("id")
	if err := h.service.Mute(c.Request.Context(), id, *req.On); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CallIDResponse{CallID: id}))
}

func (h *PhoneHandler) Transfer(c *gin.Context) {
	var req httpdto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	warm := h.service.Store().Settings().Behavior.WarmTransferDefault
	if req.Warm != nil {
		warm = *req.Warm
	}
	id := c.Param("id")
	if err := h.service.Transfer(c.Request.Context(), id, req.Target, warm); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(httpdto.CallIDResponse{CallID: id}))
}

func (h *PhoneHandler) SendDTMF(c *gin.Context) {
	var req httpdto.DTMFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	id := c.Param("id")
	if err := h.service.SendDTMF(c.Request.Context(), id, req.Digits); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CallIDResponse{CallID: id}))
}

func (h *PhoneHandler) Devices(c *gin.Context) {
	list, err := h.service.GetDevices(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(list))
}

func (h *PhoneHandler) SetDevices(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.validator.Validate(validation.DeviceSelection, raw); err != nil {
		writeError(c, err)
		return
	}
	var sel settings.DeviceSelection
	if err := json.Unmarshal(raw, &sel); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.service.SetDevices(c.Request.Context(), sel); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Store().Settings().Devices))
}

func (h *PhoneHandler) RequestMicrophone(c *gin.Context) {
	state, err := h.service.RequestMicrophonePermission(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PermissionResponse{Microphone: string(state)}))
}

func (h *PhoneHandler) UpdateSettings(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.validator.Validate(validation.SettingsPatch, raw); err != nil {
		writeError(c, err)
		return
	}
	next, err := h.service.UpdateSettings(c.Request.Context(), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(next))
}

func (h *PhoneHandler) SetDialBuffer(c *gin.Context) {
	var req httpdto.DialBufferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	h.service.SetDialBuffer(req.Value)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(req))
}

func (h *PhoneHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.service.Store().History()))
}

func (h *PhoneHandler) ClearHistory(c *gin.Context) {
	h.service.ClearHistory()
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *PhoneHandler) Diagnostics(c *gin.Context) {
	entries := h.service.Diagnostics().Entries()
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit >= 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(entries))
}

func (h *PhoneHandler) ArchiveDiagnostics(c *gin.Context) {
	if h.archiver == nil {
		writeError(c, phone_errors.ErrServiceUnavailable)
		return
	}
	res, err := h.archiver.Upload(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(res))
}

func (h *PhoneHandler) SimulateIncoming(c *gin.Context) {
	var req httpdto.SimulateIncomingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	id, err := h.service.SimulateIncoming(c.Request.Context(), req.Peer, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.CallIDResponse{CallID: id}))
}

func (h *PhoneHandler) Health(c *gin.Context) {
	st := h.service.Status()
	c.JSON(http.StatusOK, httpdto.HealthResponse{
		Status:       "ok",
		Registration: string(st.Registration),
		Initialized:  st.Initialized,
		ActiveCalls:  st.ActiveCalls,
		Time:         time.Now().UTC(),
	})
}
