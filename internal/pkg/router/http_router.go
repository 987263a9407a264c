package router

import (
	"github.com/remnashop/remnashop/app/controllers"
	"github.com/remnashop/remnashop/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

// InstallRouter registers the provider-facing webhook surface. Each adapter
// carries its own authentication (HMAC signatures, secret path tokens, IP
// checks), so no API key middleware runs on this group.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Post(constants.WebhookRoute+"/:provider", controllers.HandleProviderWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
