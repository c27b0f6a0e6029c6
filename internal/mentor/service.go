// Package mentor relays chat messages to the trading mentor persona.
package mentor

import (
	"context"
	"strings"

	"trade-journal-go/internal/gemini"
	"trade-journal-go/internal/models"

	"go.uber.org/zap"
)

// MaxHistoryTurns is how many prior turns are sent along with a message.
const MaxHistoryTurns = 10

// Conversator produces the mentor's reply.
type Conversator interface {
	Converse(ctx context.Context, message string, history []gemini.Turn) (string, error)
}

// Service is the mentor chat.
type Service struct {
	gateway Conversator
	logger  *zap.Logger
}

// NewService returns a mentor Service.
func NewService(gateway Conversator, logger *zap.Logger) *Service {
	return &Service{gateway: gateway, logger: logger.Named("mentor")}
}

// Send forwards message with the most recent history turns and returns the reply.
func (s *Service) Send(ctx context.Context, message string, history []gemini.Turn) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", &models.ValidationError{Field: "message", Message: "is required"}
	}

	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	turns := make([]gemini.Turn, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := gemini.RoleUser
		if t.Role == gemini.RoleAssistant {
			role = gemini.RoleAssistant
		}
		turns = append(turns, gemini.Turn{Role: role, Text: t.Text})
	}

	reply, err := s.gateway.Converse(ctx, message, turns)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Mentor replied", zap.Int("history_turns", len(turns)), zap.Int("reply_length", len(reply)))
	return reply, nil
}
