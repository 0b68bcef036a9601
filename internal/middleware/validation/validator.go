package validation

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const DefaultMaxTitleLength = 200

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

var (
	ErrTitleRequired = errors.New("title is required")
	ErrTitleTooLong  = errors.New("title exceeds maximum length")
	ErrTitleControl  = errors.New("title contains control characters")
	ErrTitleContent  = errors.New("invalid title content")
)

type Config struct {
	MaxTitleLength int
	MaxK           int
	Logger         *zap.Logger
}

// CheckTitle reports why title cannot be used as a lookup key. Titles are
// matched exactly, so a usable title is never rewritten.
func CheckTitle(title string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxTitleLength
	}
	switch {
	case strings.TrimSpace(title) == "":
		return ErrTitleRequired
	case utf8.RuneCountInString(title) > maxLength:
		return ErrTitleTooLong
	case strings.IndexFunc(title, unicode.IsControl) >= 0:
		return ErrTitleControl
	case containsXSS(title):
		return ErrTitleContent
	}
	return nil
}

// TitleQuery checks the title and k query parameters of recommendation
// requests and stores the title, unchanged, in Locals("title").
func TitleQuery(cfg Config) fiber.Handler {
	if cfg.MaxTitleLength == 0 {
		cfg.MaxTitleLength = DefaultMaxTitleLength
	}
	if cfg.MaxK == 0 {
		cfg.MaxK = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		title := c.Query("title")
		if err := CheckTitle(title, cfg.MaxTitleLength); err != nil {
			if errors.Is(err, ErrTitleContent) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("title", title),
				)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		if raw := c.Query("k"); raw != "" {
			k, err := strconv.Atoi(raw)
			if err != nil || k < 1 || k > cfg.MaxK {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "k must be an integer between 1 and " + strconv.Itoa(cfg.MaxK),
				})
			}
		}

		c.Locals("title", title)
		return c.Next()
	}
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
