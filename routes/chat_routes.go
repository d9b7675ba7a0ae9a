package routes

import (
	"github.com/bookhooks/bookhooks-backend/handlers"
	"github.com/bookhooks/bookhooks-backend/middleware"
	ws "github.com/bookhooks/bookhooks-backend/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func ChatRoutes(app *fiber.App, hub *ws.Hub) {
	api := app.Group("/api/v1")

	chats := api.Group("/chats", middleware.Protected())
	chats.Get("", handlers.GetUserChats)
	chats.Post("", handlers.CreateOrGetChat)
	chats.Get("/:chatId", handlers.GetChat)
	chats.Post("/:chatId/messages", handlers.SendMessage(hub))
	chats.Delete("/:chatId/messages/:messageId", handlers.DeleteChatMessage)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	api.Get("/ws", websocket.New(handlers.ServeWs(hub)))
}
