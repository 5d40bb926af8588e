package server

import (
	"context"
	"encoding/json"

	"crashgame/internal/game"

	"github.com/gofiber/contrib/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	msgPing       = "ping"
	msgPong       = "pong"
	msgPlaceBet   = "bet:place"
	msgCashout    = "bet:cashout"
	msgGetState   = "game:getState"
	msgGetHistory = "game:getHistory"
	msgBetError   = "bet:error"
)

var errUnauthorized = &game.Error{Code: "UNAUTHORIZED", Message: "Authentication required"}

// clientMessage is a request from a websocket client. ID is echoed back on
// the reply so clients can match answers to requests.
type clientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	Type string      `json:"type"`
	ID   string      `json:"id,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

type betError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type stateReply struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	State   *game.Snapshot `json:"state,omitempty"`
}

type historyReply struct {
	Success bool                `json:"success"`
	Error   string              `json:"error,omitempty"`
	Games   []game.RoundSummary `json:"games,omitempty"`
}

// gameWebSocketHandler serves one connection. Without a user_id query
// parameter the client is a spectator: it receives broadcasts but cannot bet.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id")
	log := s.log.With(zap.String("user_id", userID))
	log.Info("websocket connected")

	client := s.hub.RegisterClient(conn, userID)
	defer s.hub.UnregisterClient(client)

	ctx := context.Background()
	if state, err := s.projection.GetState(ctx, userID); err == nil {
		client.Send(game.Event{Type: game.EventGameState, Data: state})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Debug("websocket closed", zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		for _, r := range s.handleMessage(ctx, userID, message) {
			client.Send(r)
		}
	}
}

// handleMessage answers one client message. Malformed and unknown messages
// are ignored.
func (s *FiberServer) handleMessage(ctx context.Context, userID string, raw []byte) []reply {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case msgPing:
		return []reply{{Type: msgPong, ID: msg.ID}}

	case msgPlaceBet:
		bet, err := s.wsPlaceBet(ctx, userID, msg.Data)
		return withBetError(reply{Type: msgPlaceBet, ID: msg.ID, Data: game.NewBetResponse(bet, err)}, err)

	case msgCashout:
		bet, err := s.wsCashOut(ctx, userID)
		return withBetError(reply{Type: msgCashout, ID: msg.ID, Data: game.NewCashoutResponse(bet, err)}, err)

	case msgGetState:
		state, err := s.projection.GetState(ctx, userID)
		out := stateReply{Success: true, State: state}
		if err != nil {
			out = stateReply{Error: "No active game"}
			if game.CodeOf(err) == game.CodeInternal {
				s.log.Error("game state", zap.Error(err))
				out.Error = "Failed to get game state"
			}
		}
		return []reply{{Type: msgGetState, ID: msg.ID, Data: out}}

	case msgGetHistory:
		var req struct {
			Limit int `json:"limit"`
		}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return []reply{{Type: msgGetHistory, ID: msg.ID, Data: historyReply{Error: "Invalid history request"}}}
			}
		}
		games, err := s.projection.GetHistory(ctx, req.Limit)
		out := historyReply{Success: true, Games: games}
		if err != nil {
			s.log.Error("game history", zap.Error(err))
			out = historyReply{Error: "Failed to get game history"}
		}
		return []reply{{Type: msgGetHistory, ID: msg.ID, Data: out}}
	}

	s.log.Debug("unknown websocket message", zap.String("type", msg.Type))
	return nil
}

func (s *FiberServer) wsPlaceBet(ctx context.Context, userID string, data json.RawMessage) (*game.Bet, error) {
	if userID == "" {
		return nil, errUnauthorized
	}
	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}
	if len(data) == 0 || json.Unmarshal(data, &req) != nil {
		return nil, game.ErrInvalidAmount
	}
	return s.placeBet(ctx, game.BetRequest{UserID: userID, Amount: req.Amount, Currency: req.Currency})
}

func (s *FiberServer) wsCashOut(ctx context.Context, userID string) (*game.Bet, error) {
	if userID == "" {
		return nil, errUnauthorized
	}
	return s.ledger.CashOut(ctx, userID)
}

// placeBet rejects bets while the maintenance flag is set.
func (s *FiberServer) placeBet(ctx context.Context, req game.BetRequest) (*game.Bet, error) {
	if s.underMaintenance(ctx) {
		return nil, game.ErrMaintenance
	}
	return s.ledger.PlaceBet(ctx, req.UserID, req.Amount, req.Currency)
}

func withBetError(r reply, err error) []reply {
	if err == nil {
		return []reply{r}
	}
	return []reply{r, {Type: msgBetError, Data: betError{Message: game.MessageOf(err), Code: game.CodeOf(err)}}}
}
