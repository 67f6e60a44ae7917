package middlewares

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"agenti/services"
)

const (
	localActorID = "actor_id"
	localAgentID = "agent_id"
)

// ActorAuth accepts HS256 bearer tokens issued by the identity service. The
// subject becomes the actor id. An agent_id claim is only a hint until
// RequireAgent checks it against the user's agent account.
func ActorAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return unauthorized(c, "MISSING_TOKEN")
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return unauthorized(c, "INVALID_TOKEN")
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return unauthorized(c, "INVALID_TOKEN")
		}
		c.Locals(localActorID, sub)

		if agentID, ok := agentClaim(claims["agent_id"]); ok {
			c.Locals(localAgentID, agentID)
		}

		return c.Next()
	}
}

func agentClaim(v any) (uint, bool) {
	switch id := v.(type) {
	case float64:
		if id > 0 && id == float64(uint(id)) {
			return uint(id), true
		}
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		if err == nil && n > 0 {
			return uint(n), true
		}
	}
	return 0, false
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": msg,
		"data":    nil,
	})
}

// ActorID is the authenticated user id.
func ActorID(c *fiber.Ctx) string {
	id, _ := c.Locals(localActorID).(string)
	return id
}

// AgentID is the agent the caller acts as. After RequireAgent it is the agent
// linked to the caller's user account.
func AgentID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(localAgentID).(uint)
	return id, ok
}

// AgentResolver finds the agent linked to a user account. A user without one
// is reported as a *services.Failure.
type AgentResolver interface {
	AgentForUser(ctx context.Context, userID string) (uint, error)
}

// RequireAgent looks up the caller's own agent account and refuses callers
// without one, or whose agent_id claim names a different agent.
func RequireAgent(agents AgentResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		agentID, err := agents.AgentForUser(c.UserContext(), ActorID(c))
		if err != nil {
			if _, ok := services.AsFailure(err); ok {
				return forbidden(c, "NOT_AN_AGENT")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "internal server error",
				"data":    nil,
			})
		}

		if claimed, ok := AgentID(c); ok && claimed != agentID {
			return forbidden(c, "AGENT_MISMATCH")
		}

		c.Locals(localAgentID, agentID)
		return c.Next()
	}
}

func forbidden(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"success": false,
		"message": msg,
		"data":    nil,
	})
}
