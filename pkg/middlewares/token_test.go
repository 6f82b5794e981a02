package middlewares

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatroom_realtime_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	token.SetSecret("middleware-secret")
	app := fiber.New()
	app.Get("/me", JWTMiddleware(), func(c *fiber.Ctx) error {
		device, _ := c.Locals(TokenDeviceID).(string)
		return c.SendString(UserID(c) + "|" + device)
	})
	return app
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestJWTMiddleware_TokenSources(t *testing.T) {
	app := newApp()
	jwt, err := token.GenerateDeviceJWT("u1", "d1", string(token.RoleMember), "test")
	require.NoError(t, err)

	query := httptest.NewRequest(http.MethodGet, "/me?"+QueryToken+"="+jwt, nil)

	cookie := httptest.NewRequest(http.MethodGet, "/me", nil)
	cookie.AddCookie(&http.Cookie{Name: CookieToken, Value: jwt})

	bearer := httptest.NewRequest(http.MethodGet, "/me", nil)
	bearer.Header.Set(fiber.HeaderAuthorization, "Bearer "+jwt)

	for name, req := range map[string]*http.Request{"query": query, "cookie": cookie, "bearer": bearer} {
		resp, err := app.Test(req)
		require.NoError(t, err, name)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, name)
		assert.Equal(t, "u1|d1", body(t, resp), name)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	app := newApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/me?"+QueryToken+"=garbage", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
