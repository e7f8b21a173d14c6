package main

import (
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"
	"github.com/pharmaplus/support-chat/internal/chat"
	"github.com/pharmaplus/support-chat/internal/config"
	"github.com/pharmaplus/support-chat/internal/handlers"
	"github.com/pharmaplus/support-chat/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	if err := db.AutoMigrate(&store.ChatMessage{}); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	messages := store.NewGormStore(db)
	hub := chat.NewHub(chat.NewRegistry(), messages)

	engine := html.New("./views", ".html")
	app := fiber.New(fiber.Config{Views: engine})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Authorization",
	}))

	h := &handlers.ChatHandler{Store: messages, Hub: hub}

	// live chat transport, one room per ticket
	app.Get("/ws/chat/:ticketId", websocket.New(h.ChatSocket))

	// REST collaborators around the chat core
	app.Get("/api/chats/:ticketId", h.History)
	app.Post("/api/chats/send", h.Send)
	app.Patch("/api/chats/:ticketId/read", h.MarkRead)
	app.Get("/api/chats/:ticketId/unread", h.UnreadCount)

	// agent console page
	app.Get("/chat/:ticketId", h.ConsolePage)

	log.Fatal(app.Listen(cfg.ListenAddr))
}
