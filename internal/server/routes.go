package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-User-ID,X-User-Name,X-Admin-Token",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api")

	crashGroup := api.Group("/crash")
	crashGroup.Post("/bet", s.requireUser, s.placeBetHandler)
	crashGroup.Post("/cashout", s.requireUser, s.cashoutHandler)
	crashGroup.Get("/current", s.currentRoundHandler)
	crashGroup.Get("/history", s.roundHistoryHandler)
	crashGroup.Get("/bets", s.requireUser, s.betHistoryHandler)
	crashGroup.Get("/verify", s.verifyHandler)
	crashGroup.Post("/admin/start", s.requireAdmin, s.adminStartHandler)
	crashGroup.Post("/admin/stop", s.requireAdmin, s.adminStopHandler)

	users := api.Group("/users")
	users.Get("/:userId/balance", s.getBalanceHandler)
	users.Post("/:userId/balance", s.requireAdmin, s.setBalanceHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

// requireUser resolves the caller's identity. Authentication itself is
// handled upstream; this process trusts the forwarded identity header.
func (s *FiberServer) requireUser(c *fiber.Ctx) error {
	userID := c.Get("X-User-ID")
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing X-User-ID header",
		})
	}
	c.Locals("userID", userID)
	c.Locals("userName", c.Get("X-User-Name", userID))
	return c.Next()
}

func (s *FiberServer) requireAdmin(c *fiber.Ctx) error {
	if s.adminToken == "" || c.Get("X-Admin-Token") != s.adminToken {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin access required",
		})
	}
	return c.Next()
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"game": fiber.Map{
			"connected_clients": s.hub.ClientCount(),
		},
	})
}
