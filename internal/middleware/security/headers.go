package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets security headers for JSON API responses. The content
// policy allows nothing but connections to the allowed origins.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := buildCSP(cfg.AllowedOrigins)

	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderXFrameOptions, "DENY")
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		c.Set(fiber.HeaderReferrerPolicy, "no-referrer")
		c.Set(fiber.HeaderContentSecurityPolicy, csp)

		if !cfg.IsDevelopment {
			c.Set(fiber.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}

func buildCSP(origins []string) string {
	connectSrc := append([]string{"'self'"}, origins...)
	return "default-src 'none'; " +
		"connect-src " + strings.Join(connectSrc, " ") + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'; " +
		"form-action 'none'"
}
