package server

import (
	"errors"
	"math"
	"strconv"

	"crashgame/internal/game"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultBetsLimit = 20
	maxBetsLimit     = 100
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	cache := map[string]string{"status": "disabled"}
	if s.cache != nil {
		cache = s.cache.Health()
	}
	health := fiber.Map{
		"database": s.db.Health(),
		"cache":    cache,
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	return c.JSON(health)
}

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	state, err := s.projection.GetState(c.Context(), c.Query("user_id"))
	if errors.Is(err, game.ErrNoActiveRound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active game round",
		})
	}
	if err != nil {
		return s.errorResponse(c, "game state", err)
	}
	return c.JSON(state)
}

func (s *FiberServer) getHistoryHandler(c *fiber.Ctx) error {
	history, err := s.projection.GetHistory(c.Context(), c.QueryInt("limit", 0))
	if err != nil {
		return s.errorResponse(c, "game history", err)
	}
	return c.JSON(fiber.Map{"games": history})
}

// verifyHandler recomputes a revealed round. hash and crash_point are
// optional; any given is checked against the recomputation.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	seed := c.Query("seed")
	if seed == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Seed is required",
		})
	}

	hash := game.HashSeed(seed)
	crashPoint := s.formula.CrashPoint(seed)
	resp := fiber.Map{
		"formula_version": game.FORMULA_VERSION,
		"seed":            seed,
		"hash":            hash,
		"crash_point":     crashPoint,
	}

	valid := true
	if expected := c.Query("hash"); expected != "" {
		match := expected == hash
		resp["hash_match"] = match
		valid = valid && match
	}
	if raw := c.Query("crash_point"); raw != "" {
		expected, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid crash point",
			})
		}
		match := math.Abs(expected-crashPoint) < 0.005
		resp["crash_point_match"] = match
		valid = valid && match
	}
	resp["valid"] = valid

	return c.JSON(resp)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	bet, err := s.placeBet(c.Context(), req)
	resp := game.NewBetResponse(bet, err)
	if err != nil {
		return c.Status(statusOf(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	bet, err := s.ledger.CashOut(c.Context(), req.UserID)
	resp := game.NewCashoutResponse(bet, err)
	if err != nil {
		return c.Status(statusOf(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	balances, err := s.ledger.Balances(c.Context(), userID)
	if err != nil {
		return s.errorResponse(c, "balances", err)
	}

	return c.JSON(fiber.Map{
		"user_id":  userID,
		"balances": balances,
	})
}

// setUserBalanceHandler sets one balance (for testing/admin).
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var body struct {
		Currency string          `json:"currency"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	balances, err := s.ledger.SetBalance(c.Context(), userID, body.Currency, body.Amount)
	if err != nil {
		return s.errorResponse(c, "set balance", err)
	}

	return c.JSON(fiber.Map{
		"user_id":  userID,
		"balances": balances,
		"message":  "Balance updated successfully",
	})
}

func (s *FiberServer) getUserBetsHandler(c *fiber.Ctx) error {
	if s.bets == nil {
		return fiber.ErrNotFound
	}

	limit := c.QueryInt("limit", defaultBetsLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxBetsLimit {
		limit = maxBetsLimit
	}

	bets, err := s.bets.UserBets(c.Context(), c.Params("userId"), limit)
	if err != nil {
		return s.errorResponse(c, "user bets", err)
	}
	if bets == nil {
		bets = []game.Bet{}
	}
	return c.JSON(fiber.Map{"bets": bets})
}

// errorResponse writes err with its code. Infrastructure faults are logged
// and reported without detail.
func (s *FiberServer) errorResponse(c *fiber.Ctx, op string, err error) error {
	status := statusOf(err)
	if status == fiber.StatusInternalServerError {
		s.log.Error(op, zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": game.MessageOf(err),
		"code":  game.CodeOf(err),
	})
}

func statusOf(err error) int {
	var e *game.Error
	if !errors.As(err, &e) {
		return fiber.StatusInternalServerError
	}
	switch e {
	case game.ErrRateLimited:
		return fiber.StatusTooManyRequests
	case game.ErrMaintenance:
		return fiber.StatusServiceUnavailable
	case game.ErrNoActiveRound:
		return fiber.StatusNotFound
	case errUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusBadRequest
	}
}
