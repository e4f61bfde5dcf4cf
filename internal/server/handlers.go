package server

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"skyrush/internal/crash"
	"skyrush/internal/ws"
)

// fail maps business errors to their stable status and code; anything
// else is a generic 500 and safe for the client to retry.
func fail(c *fiber.Ctx, err error) error {
	var bizErr *crash.Error
	if errors.As(err, &bizErr) {
		return c.Status(bizErr.Status).JSON(fiber.Map{
			"error": bizErr.Message,
			"code":  bizErr.Code,
		})
	}
	log.Printf("[SERVER] Internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}

func requestMeta(c *fiber.Ctx) crash.RequestMeta {
	name, _ := c.Locals("userName").(string)
	return crash.RequestMeta{
		DisplayName: name,
		IPAddress:   c.IP(),
		UserAgent:   c.Get("User-Agent"),
	}
}

type placeBetRequest struct {
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"autoCashout"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req placeBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	userID := c.Locals("userID").(string)
	bet, err := s.settlement.PlaceBet(c.Context(), userID, req.Amount, req.AutoCashout, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"betId":  bet.ID,
		"amount": bet.Amount,
		"gameId": bet.RoundID,
	})
}

type cashoutRequest struct {
	BetID string `json:"betId"`
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req cashoutRequest
	if err := c.BodyParser(&req); err != nil || req.BetID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Bet ID is required",
		})
	}

	userID := c.Locals("userID").(string)
	multiplier, winAmount, err := s.settlement.Cashout(c.Context(), userID, req.BetID, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{
		"multiplier": multiplier,
		"winAmount":  winAmount,
	})
}

func (s *FiberServer) currentRoundHandler(c *fiber.Ctx) error {
	userID := c.Get("X-User-ID")
	view, err := s.query.CurrentRound(c.Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

func (s *FiberServer) roundHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	offset := c.QueryInt("offset", 0)

	games, err := s.query.RoundHistory(c.Context(), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	if games == nil {
		games = []crash.RoundHistoryEntry{}
	}
	return c.JSON(fiber.Map{"games": games})
}

func (s *FiberServer) betHistoryHandler(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	limit := c.QueryInt("limit", 10)
	offset := c.QueryInt("offset", 0)

	bets, err := s.query.UserBetHistory(c.Context(), userID, limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"bets": bets})
}

// verifyHandler lets anyone recheck a revealed round: same inputs,
// same multiplier.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	serverSeed := c.Query("serverSeed")
	clientSeed := c.Query("clientSeed")
	nonce := c.QueryInt("nonce", -1)
	claimed, err := strconv.ParseFloat(c.Query("multiplier"), 64)
	if serverSeed == "" || clientSeed == "" || nonce < 0 || err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "serverSeed, clientSeed, nonce and multiplier are required",
		})
	}

	derived := crash.DeriveCrashPoint(serverSeed, clientSeed, nonce)
	return c.JSON(fiber.Map{
		"valid":      crash.VerifyCrashPoint(serverSeed, clientSeed, nonce, claimed),
		"multiplier": derived,
	})
}

func (s *FiberServer) adminStartHandler(c *fiber.Ctx) error {
	if err := s.engine.Start(c.Context()); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "started"})
}

func (s *FiberServer) adminStopHandler(c *fiber.Ctx) error {
	if err := s.engine.Stop(c.Context()); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "stopped"})
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	acct, err := s.store.GetAccount(c.Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(acct)
}

type setBalanceRequest struct {
	Balance float64 `json:"balance"`
}

func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var req setBalanceRequest
	if err := c.BodyParser(&req); err != nil || req.Balance < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	acct, err := s.store.SetBalance(c.Context(), userID, req.Balance)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(acct)
}

// gameWebSocketHandler serves the realtime channel. Client messages
// are advisory only, used for multi-tab UI sync; settlements always go
// through the REST endpoints.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("userId", "anonymous")

	s.hub.RegisterClient(conn, userID)

	if round, mult, ok := s.engine.CurrentRound(); ok {
		snap := crash.RoundSnapshot{
			RoundID:        round.ID,
			Status:         round.Status,
			Multiplier:     mult,
			ServerSeedHash: round.ServerSeedHash,
		}
		s.hub.SendTo(conn, ws.Message{Event: "initial_state", Data: snap})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.hub.UnregisterClient(conn)
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}

		switch clientMsg.Event {
		case "bet:place", "bet:cashout":
			// Advisory only; no authority over REST-driven settlement.
			log.Printf("[WS] Advisory %s from user %s", clientMsg.Event, userID)
		case "ping":
			pong, _ := json.Marshal(ws.Message{Event: "pong"})
			conn.WriteMessage(websocket.TextMessage, pong)
		}
	}
}
