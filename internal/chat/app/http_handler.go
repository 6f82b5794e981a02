package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/chat/session"
	notifydomain "chatroom_realtime_service/internal/notification/domain"
	"chatroom_realtime_service/pkg/logger"
	"chatroom_realtime_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// DeviceRegistrar store push device tokens
type DeviceRegistrar interface {
	Upsert(ctx context.Context, d *notifydomain.Device) error
}

// ChatHTTPHandler REST side of chat_service
type ChatHTTPHandler struct {
	roomUC  *RoomUseCase
	fetcher *session.Fetcher
	devices DeviceRegistrar
}

// NewChatHTTPHandler create ChatHTTPHandler, devices can be nil when push is disabled
func NewChatHTTPHandler(roomUC *RoomUseCase, store session.MessageStore, pageSize int, devices DeviceRegistrar) *ChatHTTPHandler {
	return &ChatHTTPHandler{
		roomUC:  roomUC,
		fetcher: session.NewFetcher(store, pageSize),
		devices: devices,
	}
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

type deviceRequest struct {
	Token                string `json:"token"`
	Platform             string `json:"platform"`
	NotificationsEnabled *bool  `json:"notifications_enabled"`
}

// ConnectCheck health check
func ConnectCheck(c *fiber.Ctx) error {
	return c.SendString("chat service start!")
}

// DebugLogFlag toggle debug log flag
func DebugLogFlag(c *fiber.Ctx) error {
	query, err := url.ParseQuery(string(c.Context().QueryArgs().QueryString()))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	statusStr := query.Get("status")
	logger.Log.Info("debug", zap.String("status", statusStr))
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("debug mode is : %t", status))
}

// ListMessages GET /api/rooms/:room_id/messages?cursor=
func (h *ChatHTTPHandler) ListMessages(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	if err := h.requireParticipant(c, roomID); err != nil {
		return errorResponse(c, err)
	}

	var cursor *time.Time
	if raw := c.Query("cursor"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cursor must be RFC3339"})
		}
		cursor = &t
	}

	page, err := h.fetcher.FetchPage(c.UserContext(), roomID, cursor)
	if err != nil {
		return errorResponse(c, err)
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	return c.JSON(page)
}

// GetMessage GET /api/messages/:message_id, message is null when absent
func (h *ChatHTTPHandler) GetMessage(c *fiber.Ctx) error {
	msg, err := h.fetcher.FetchOne(c.UserContext(), c.Params("message_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if msg != nil {
		ok, err := h.roomUC.IsParticipant(c.UserContext(), msg.ChatroomID, middlewares.UserID(c))
		if err != nil {
			return errorResponse(c, err)
		}
		if !ok {
			msg = nil
		}
	}
	return c.JSON(fiber.Map{"message": msg})
}

// JoinRoom POST /api/rooms/:room_id/participants
func (h *ChatHTTPHandler) JoinRoom(c *fiber.Ctx) error {
	var req nicknameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	p, err := h.roomUC.Join(c.UserContext(), c.Params("room_id"), middlewares.UserID(c), req.Nickname)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"participant": p})
}

// RenameMe PATCH /api/rooms/:room_id/participants/me
func (h *ChatHTTPHandler) RenameMe(c *fiber.Ctx) error {
	var req nicknameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.roomUC.Rename(c.UserContext(), c.Params("room_id"), middlewares.UserID(c), req.Nickname); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"nickname": req.Nickname})
}

// RegisterDevice POST /api/devices
func (h *ChatHTTPHandler) RegisterDevice(c *fiber.Ctx) error {
	if h.devices == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "push is disabled"})
	}
	var req deviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	enabled := true
	if req.NotificationsEnabled != nil {
		enabled = *req.NotificationsEnabled
	}

	d := &notifydomain.Device{
		Token:                req.Token,
		UserID:               middlewares.UserID(c),
		Platform:             req.Platform,
		NotificationsEnabled: enabled,
		UpdatedAt:            time.Now().UTC(),
	}
	if err := h.devices.Upsert(c.UserContext(), d); err != nil {
		if errors.Is(err, notifydomain.ErrInvalidDevice) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"device": d})
}

func (h *ChatHTTPHandler) requireParticipant(c *fiber.Ctx, roomID string) error {
	ok, err := h.roomUC.IsParticipant(c.UserContext(), roomID, middlewares.UserID(c))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotParticipant
	}
	return nil
}

// errorResponse map domain errors to status, conflict flag set for duplicate nickname
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case domain.IsConflict(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "conflict": true})
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrMessageNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidNickname), errors.Is(err, domain.ErrInvalidRoomName),
		errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrInvalidTarget):
		status = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrRoomFull), errors.Is(err, domain.ErrRoomClosed):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrBanned), errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrForbidden):
		status = fiber.StatusForbidden
	}
	if status == fiber.StatusInternalServerError {
		logger.Log.Error("http request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
