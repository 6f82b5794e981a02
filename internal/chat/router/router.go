package router

import (
	"context"

	"chatroom_realtime_service/internal/chat/app"
	"chatroom_realtime_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 註冊聊天服務路由
func RegisterRoutes(r *fiber.App, chatWebsocket *app.ChatWebsocketHandler, chatHTTP *app.ChatHTTPHandler) {
	r.Get("/healthz", app.ConnectCheck)
	r.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	r.Post("/debug", app.DebugLogFlag)

	r.Use("/ws", middlewares.JWTMiddleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}))

	api := r.Group("/api", middlewares.JWTMiddleware())
	api.Get("/rooms/:room_id/messages", chatHTTP.ListMessages)
	api.Post("/rooms/:room_id/participants", chatHTTP.JoinRoom)
	api.Patch("/rooms/:room_id/participants/me", chatHTTP.RenameMe)
	api.Get("/messages/:message_id", chatHTTP.GetMessage)
	api.Post("/devices", chatHTTP.RegisterDevice)
}
