package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenti/services"
)

var testSecret = []byte("test-secret")

// agentAccounts maps user ids to their agent; "broken" fails the lookup.
type agentAccounts map[string]uint

func (a agentAccounts) AgentForUser(_ context.Context, userID string) (uint, error) {
	if userID == "broken" {
		return 0, errors.New("connection refused")
	}
	id, ok := a[userID]
	if !ok {
		return 0, services.Reject(services.CodeAgentNotFound, "no agent")
	}
	return id, nil
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newApp() *fiber.App {
	app := fiber.New()
	app.Get("/whoami", ActorAuth(testSecret), func(c *fiber.Ctx) error {
		agentID, isAgent := AgentID(c)
		return c.JSON(fiber.Map{"actor": ActorID(c), "agent_id": agentID, "is_agent": isAgent})
	})
	app.Get("/agent-only", ActorAuth(testSecret), RequireAgent(agentAccounts{"user-42": 7}), func(c *fiber.Ctx) error {
		agentID, _ := AgentID(c)
		return c.JSON(fiber.Map{"agent_id": agentID})
	})
	return app
}

func get(t *testing.T, app *fiber.App, path, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestActorAuth(t *testing.T) {
	app := newApp()

	token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":      "user-42",
		"agent_id": 7,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	status, body := get(t, app, "/whoami", token)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "user-42", body["actor"])
	assert.Equal(t, float64(7), body["agent_id"])
	assert.Equal(t, true, body["is_agent"])

	admin := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "admin-1"})
	status, body = get(t, app, "/whoami", admin)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["is_agent"])

	status, _ = get(t, app, "/agent-only", admin)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = get(t, app, "/agent-only", token)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(7), body["agent_id"])
}

func TestRequireAgent(t *testing.T) {
	app := newApp()

	cases := []struct {
		name    string
		claims  jwt.MapClaims
		status  int
		message string
		agentID float64
	}{
		{name: "agent from subject", claims: jwt.MapClaims{"sub": "user-42"}, status: fiber.StatusOK, agentID: 7},
		{name: "matching claim", claims: jwt.MapClaims{"sub": "user-42", "agent_id": "7"}, status: fiber.StatusOK, agentID: 7},
		{name: "claim names another agent", claims: jwt.MapClaims{"sub": "user-42", "agent_id": 8}, status: fiber.StatusForbidden, message: "AGENT_MISMATCH"},
		{name: "user without agent claims one", claims: jwt.MapClaims{"sub": "admin-1", "agent_id": 7}, status: fiber.StatusForbidden, message: "NOT_AN_AGENT"},
		{name: "lookup fails", claims: jwt.MapClaims{"sub": "broken"}, status: fiber.StatusInternalServerError, message: "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := get(t, app, "/agent-only", sign(t, jwt.SigningMethodHS256, testSecret, tc.claims))
			assert.Equal(t, tc.status, status)
			if tc.message != "" {
				assert.Equal(t, tc.message, body["message"])
			}
			if tc.status == fiber.StatusOK {
				assert.Equal(t, tc.agentID, body["agent_id"])
			}
		})
	}
}

func TestActorAuth_Rejects(t *testing.T) {
	app := newApp()

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-token",
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "x"}),
		"expired":      sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no subject":   sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"agent_id": 1}),
		"wrong alg":    sign(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "x"}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := get(t, app, "/whoami", token)
			assert.Equal(t, fiber.StatusUnauthorized, status)
			assert.Equal(t, false, body["success"])
		})
	}
}
