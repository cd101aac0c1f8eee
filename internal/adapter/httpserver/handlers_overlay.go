package httpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/swansong314/matlab-proxy/internal/domain"
	apperrors "github.com/swansong314/matlab-proxy/internal/platform/errors"
)

type openDialogRequest struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

func (s *Server) handleGetOverlay(c echo.Context) error {
	return writeView(c, s.overlay.View())
}

func (s *Server) handleToggleOverlay(c echo.Context) error {
	return s.applyCommand(c, s.overlay.ToggleOverlay)
}

func (s *Server) handleOpenDialog(c echo.Context) error {
	var req openDialogRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid dialog request body", err)
	}

	kind, err := domain.ParseDialogKind(req.Type)
	if err != nil {
		return err
	}
	if kind == domain.DialogHelp && req.Action != "" {
		return apperrors.ValidationError("help dialog does not take an action", domain.ErrInvalidDialog).
			WithContext("action", req.Action)
	}

	view, err := s.overlay.OpenDialog(c.Request().Context(), kind, domain.Action(req.Action))
	if err != nil {
		return err
	}
	return writeView(c, view)
}

func (s *Server) handleCloseDialog(c echo.Context) error {
	return s.applyCommand(c, s.overlay.CloseDialog)
}

func (s *Server) handleConfirmDialog(c echo.Context) error {
	return s.applyCommand(c, s.overlay.ConfirmDialog)
}

func (s *Server) handleDismissDialogs(c echo.Context) error {
	return s.applyCommand(c, s.overlay.DismissDialogs)
}

func (s *Server) applyCommand(c echo.Context, cmd func(ctx context.Context) (domain.View, error)) error {
	view, err := cmd(c.Request().Context())
	if err != nil {
		return err
	}
	return writeView(c, view)
}

func writeView(c echo.Context, view domain.View) error {
	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to write view response: %w", err)
	}
	return nil
}
