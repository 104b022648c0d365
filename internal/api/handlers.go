package api

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/agent"
	apperrors "github.com/pkonate/teampulse/internal/errors"
	"github.com/pkonate/teampulse/internal/security"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   "0.1.0",
		"timestamp": time.Now().Unix(),
	})
}

const (
	tokenIssuer   = "teampulse"
	tokenLifetime = 24 * time.Hour
)

// handleLogin exchanges the configured access password for a signed session
// token. With no password configured, login is disabled outright.
func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	configured := s.config.Security.Password
	if configured == "" {
		return c.Status(503).JSON(fiber.Map{"error": "login is not configured"})
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(configured)) != 1 {
		return c.Status(401).JSON(fiber.Map{"error": "invalid credentials"})
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	})

	signed, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to sign token"})
	}

	return c.JSON(fiber.Map{
		"token":      signed,
		"expires_in": int64(tokenLifetime.Seconds()),
	})
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req struct {
		ThreadID string `json:"thread_id"`
		Query    string `json:"query"`
		Title    string `json:"title"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	if req.Query == "" {
		return c.Status(400).JSON(fiber.Map{"error": "query is required"})
	}
	if err := security.ValidateQuery(req.Query); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	resp, err := s.pipeline.Ask(c.Context(), agent.Request{
		ThreadID: req.ThreadID,
		Query:    req.Query,
		Title:    req.Title,
	})
	if err != nil {
		s.logger.Error("chat turn failed", zap.Error(err))
		return c.Status(502).JSON(fiber.Map{
			"error": "failed to answer",
			"code":  apperrors.GetCode(err),
		})
	}

	return c.JSON(resp)
}

func (s *Server) handleListThreads(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	threads, err := s.store.ListThreads(limit, offset)
	if err != nil {
		s.logger.Error("failed to list threads", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to list threads"})
	}

	return c.JSON(threads)
}

func (s *Server) handleGetThread(c *fiber.Ctx) error {
	thread, err := s.store.GetThread(c.Params("id"))
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrThreadNotFound.Code {
			return c.Status(404).JSON(fiber.Map{"error": "thread not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to get thread"})
	}
	return c.JSON(thread)
}

func (s *Server) handleDeleteThread(c *fiber.Ctx) error {
	if err := s.store.Delete(c.Params("id")); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to delete thread"})
	}
	return c.SendStatus(204)
}

func (s *Server) handleUpdateTitle(c *fiber.Ctx) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(400).JSON(fiber.Map{"error": "title is required"})
	}

	if err := s.store.UpdateTitle(c.Params("id"), req.Title); err != nil {
		if apperrors.GetCode(err) == apperrors.ErrThreadNotFound.Code {
			return c.Status(404).JSON(fiber.Map{"error": "thread not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to update title"})
	}
	return c.SendStatus(204)
}

func (s *Server) handleGetMessages(c *fiber.Ctx) error {
	window := c.QueryInt("limit", 0)

	// An unknown thread reads as an empty conversation, not an error.
	msgs, err := s.store.History(c.Params("id"), window)
	if err != nil {
		s.logger.Error("failed to get messages", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to get messages"})
	}
	return c.JSON(msgs)
}

func (s *Server) handleListCapabilities(c *fiber.Ctx) error {
	return c.JSON(s.registry.Descriptors())
}

// handleWebSocket runs a chat loop over one connection: each inbound frame is
// a turn, each outbound frame the finished response.
func (s *Server) handleWebSocket(conn *websocket.Conn) {
	defer conn.Close()

	for {
		var req struct {
			ThreadID string `json:"thread_id"`
			Query    string `json:"query"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Query == "" {
			_ = conn.WriteJSON(fiber.Map{"error": "query is required"})
			continue
		}
		if err := security.ValidateQuery(req.Query); err != nil {
			_ = conn.WriteJSON(fiber.Map{"error": err.Error()})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		resp, err := s.pipeline.Ask(ctx, agent.Request{
			ThreadID: req.ThreadID,
			Query:    req.Query,
		})
		cancel()

		if err != nil {
			s.logger.Error("websocket turn failed", zap.Error(err))
			_ = conn.WriteJSON(fiber.Map{
				"error": "failed to answer",
				"code":  apperrors.GetCode(err),
			})
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}
