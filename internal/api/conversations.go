package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/api/auth"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/orchestrator"
	"github.com/orderguardian/internal/store"
)

// messageRequest is the body of POST /conversations/:id/messages. Image is
// base64 encoded.
type messageRequest struct {
	CustomerID string         `json:"customer_id"`
	OrderID    string         `json:"order_id"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context"`
	Image      []byte         `json:"image"`
}

func (s *Server) getHealth(c echo.Context) error {
	status := "healthy"
	if s.checker != nil && !s.checker.Healthy() {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

func (s *Server) getCapabilities(c echo.Context) error {
	if s.checker == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, s.checker.Snapshot())
}

func (s *Server) postMessage(c echo.Context) error {
	var body messageRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	customerID := body.CustomerID
	if claims, ok := auth.ClaimsFromContext(c); ok && claims.CustomerID != "" {
		customerID = claims.CustomerID
	}

	res, err := s.turns.ProcessMessage(c.Request().Context(), orchestrator.Turn{
		ConversationID: c.Param("id"),
		CustomerID:     customerID,
		OrderID:        body.OrderID,
		Message:        body.Message,
		Context:        body.Context,
		Image:          body.Image,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) getConversation(c echo.Context) error {
	st, err := s.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) getMessages(c echo.Context) error {
	last := 0
	if raw := c.QueryParam("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "last must be a non-negative integer")
		}
		last = n
	}
	msgs, err := s.manager.Messages(c.Request().Context(), c.Param("id"), last)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) deleteConversation(c echo.Context) error {
	if err := s.manager.Clear(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) exportConversation(c echo.Context) error {
	data, err := s.manager.Export(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSONBlob(http.StatusOK, data)
}

func (s *Server) importConversation(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	overwrite, _ := strconv.ParseBool(c.QueryParam("overwrite"))

	st, err := s.manager.Import(c.Request().Context(), data, overwrite)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"conversation_id": st.ConversationID,
		"messages":        len(st.Messages),
	})
}

// httpError maps domain errors to status codes. Internal failures are
// logged and answered with a generic body.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput), errors.Is(err, conversation.ErrMalformedState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	log.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Str("conversation_id", c.Param("id")).
		Msg("Request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
