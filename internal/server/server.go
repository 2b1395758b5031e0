// Package server wires the HTTP surface: code generation, click capture,
// the logs API and the map page.
package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lexking/tracker/internal/event"
	"github.com/lexking/tracker/internal/logger"
	"github.com/lexking/tracker/internal/mapview"
	"github.com/lexking/tracker/internal/query"
	"github.com/lexking/tracker/internal/shortcode"
	"github.com/lexking/tracker/internal/store"
)

type Config struct {
	// AppDomain overrides the base URL in generated links; empty falls back
	// to the request's own scheme and host.
	AppDomain string
}

// pixel is the fixed 1x1 transparent PNG served on the tracking path when no
// redirect target is given. A pixel avoids a visible redirect in link
// previews while still recording the visit.
var pixel = mustDecodePixel()

func mustDecodePixel() []byte {
	const b64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAA" +
		"AAC0lEQVR42mP8/x8AAwMBAHk2x4QAAAAASUVORK5CYII="
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		panic(err)
	}
	return b
}

type Server struct {
	cfg     Config
	gen     *shortcode.Generator
	norm    event.Normalizer
	append  store.Appender
	queries *query.Service
}

// New builds the fiber app. Validation happens at each route boundary
// before any persistence or query runs; anything escaping a handler is
// logged and collapsed to a generic 500 by the error handler.
func New(cfg Config, gen *shortcode.Generator, norm event.Normalizer, appender store.Appender, queries *query.Service) *fiber.App {
	s := &Server{cfg: cfg, gen: gen, norm: norm, append: appender, queries: queries}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(logger.FiberMiddleware())

	app.Get("/", s.handleHealth)
	app.Get("/health", s.handleHealth)
	app.Get("/gen/:name?", s.handleGenerate)
	app.Get("/t/:code?", s.handleTrack)
	app.Get("/api/logs/:code?", s.handleLogs)
	app.Get("/map/:code?", s.handleMap)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).SendString("Not found")
	})

	return app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.SendString("LexKing Tracker up 👑")
}

// handleGenerate mints a code and the derived URLs. Nothing is persisted
// here: a link only starts to exist once its first click lands.
func (s *Server) handleGenerate(c *fiber.Ctx) error {
	name := pathParam(c, "name")
	if name == "" || len([]rune(name)) > event.MaxNameLen {
		return fiber.NewError(fiber.StatusBadRequest, "invalid name")
	}

	code, err := s.gen.Generate()
	if err != nil {
		return err
	}

	base := s.baseURL(c)
	return c.JSON(fiber.Map{
		"name": name,
		"code": code,
		"link": base + "/t/" + code,
		"mapa": base + "/map/" + code,
	})
}

func (s *Server) handleTrack(c *fiber.Ctx) error {
	code := pathParam(c, "code")
	if code == "" || len(code) > shortcode.MaxLen {
		return fiber.NewError(fiber.StatusBadRequest, "invalid link")
	}

	ev := s.norm.Normalize(code, c.Query("n"), fiberHeaders{c: c})
	if err := s.append.Append(c.Context(), &ev); err != nil {
		return err
	}
	s.queries.Invalidate(c.Context(), code)

	if img := c.Query("img"); img != "" {
		return c.Redirect(img, fiber.StatusFound)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(pixel)
}

func (s *Server) handleLogs(c *fiber.Ctx) error {
	code := pathParam(c, "code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "code required")
	}

	sum, err := s.queries.Summarize(c.Context(), code, store.APILimit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"code":  code,
		"total": sum.Total,
		"logs":  sum.Events,
	})
}

func (s *Server) handleMap(c *fiber.Ctx) error {
	code := pathParam(c, "code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "invalid code")
	}

	sum, err := s.queries.Summarize(c.Context(), code, store.MapLimit)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	err = mapview.Render(&buf, mapview.PageData{
		Code:      code,
		Events:    sum.Events,
		UniqueIPs: sum.UniqueIPs,
	})
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(buf.Bytes())
}

func (s *Server) baseURL(c *fiber.Ctx) string {
	if s.cfg.AppDomain != "" {
		return strings.TrimSuffix(s.cfg.AppDomain, "/")
	}
	return c.BaseURL()
}

// pathParam returns the trimmed, percent-decoded path parameter.
func pathParam(c *fiber.Ctx, key string) string {
	raw := c.Params(key)
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return strings.TrimSpace(raw)
}

// fiberHeaders adapts a fiber context to the normalizer's header view.
type fiberHeaders struct {
	c *fiber.Ctx
}

func (h fiberHeaders) Get(key string) string {
	return h.c.Get(key)
}

// errorHandler is the top of the propagation chain: client errors carry
// their own short message, everything else is logged server-side and
// surfaced as a generic 500.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).SendString(fe.Message)
	}
	slog.Error("request failed", "method", c.Method(), "path", c.OriginalURL(), "err", err)
	return c.Status(fiber.StatusInternalServerError).SendString("internal error")
}
