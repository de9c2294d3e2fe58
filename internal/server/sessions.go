package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/scout/internal/engine"
)

// SessionsHandler exposes the engine over HTTP.
type SessionsHandler struct {
	Engine *engine.Engine
	Bus    *eventBus
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.status)
	g.POST("/:id/command", h.command)
	g.DELETE("/:id", h.cancel)
	g.GET("/:id/events", h.events)
}

func (h *SessionsHandler) create(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.Engine.Start(c.Request().Context(), req.Question)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, s.State())
}

func (h *SessionsHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Engine.List())
}

func (h *SessionsHandler) status(c echo.Context) error {
	state, err := h.Engine.Status(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

func (h *SessionsHandler) command(c echo.Context) error {
	var req SessionCommandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Engine.Resume(c.Request().Context(), c.Param("id"), engine.Command(req.Command)); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *SessionsHandler) cancel(c echo.Context) error {
	if err := h.Engine.Cancel(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// events streams the session's engine events as SSE until the client leaves.
func (h *SessionsHandler) events(c echo.Context) error {
	sessionID := c.Param("id")
	if _, err := h.Engine.Status(sessionID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	sub := h.Bus.subscribe(sessionID)
	defer h.Bus.unsubscribe(sub)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case ev, open := <-sub.ch:
			if !open {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
			if ev.Type == engine.EventFinalized || ev.Type == engine.EventFailed {
				return nil
			}
		}
	}
}

// eventBus fans the engine's single event stream out to SSE subscribers.
type eventBus struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	sessionID string
	ch        chan engine.Event
}

func newEventBus(events <-chan engine.Event) *eventBus {
	b := &eventBus{subs: make(map[*subscriber]struct{})}
	go func() {
		for ev := range events {
			b.mu.Lock()
			for sub := range b.subs {
				if sub.sessionID != "" && sub.sessionID != ev.SessionID {
					continue
				}
				select {
				case sub.ch <- ev:
				default: // slow subscriber, drop
				}
			}
			b.mu.Unlock()
		}
	}()
	return b
}

func (b *eventBus) subscribe(sessionID string) *subscriber {
	sub := &subscriber{sessionID: sessionID, ch: make(chan engine.Event, 16)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *eventBus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}
