package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

// adminAuth guards the operator API with the shared secret. Without a
// configured secret the API stays open, which is only sane in dev mode.
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := s.Profile.WebhookSecret
		if secret == "" {
			if !s.Profile.IsDev() {
				return echo.NewHTTPError(http.StatusForbidden, "admin api requires WEBHOOK_SECRET in prod mode")
			}
			return next(c)
		}
		header := c.Request().Header.Get("Authorization")
		if header != "Bearer "+secret {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
		}
		return next(c)
	}
}

// handleCatalogUpload accepts an XLSX export and starts a blue-green
// index build. The old index keeps serving until the new one activates.
func (s *Server) handleCatalogUpload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".xlsx") {
		return echo.NewHTTPError(http.StatusBadRequest, "catalog must be an .xlsx file")
	}

	src, err := file.Open()
	if err != nil {
		return errors.Wrap(err, "failed to open upload")
	}
	defer src.Close()

	path := filepath.Join(s.Profile.UploadDir, uuid.NewString()+".xlsx")
	dst, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to store upload")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrap(err, "failed to store upload")
	}
	if err := dst.Close(); err != nil {
		return errors.Wrap(err, "failed to store upload")
	}

	// The build embeds the whole catalog; it outlives the request.
	buildCtx := context.WithoutCancel(c.Request().Context())
	go func() {
		version, err := s.engine.Build(buildCtx, path)
		if err != nil {
			s.logger.Error("catalog build failed", "source", file.Filename, "error", err)
			return
		}
		s.logger.Info("catalog build activated",
			"version", version.VersionName,
			"products", version.IndexedRows,
		)
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"status": "building",
		"source": file.Filename,
	})
}

func (s *Server) handleCatalogActive(c echo.Context) error {
	status := store.CatalogActive
	version, err := s.Store.GetCatalogVersion(c.Request().Context(), &store.FindCatalogVersion{Status: &status})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no active catalog version")
		}
		return err
	}
	return c.JSON(http.StatusOK, version)
}

func (s *Server) handlePromptList(c echo.Context) error {
	active := true
	prompts, err := s.Store.ListPrompts(c.Request().Context(), &store.FindPrompt{Active: &active})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prompts)
}

type promptPutRequest struct {
	Content string `json:"content"`
}

// handlePromptPut installs a new active version of a prompt. Running
// turns keep the text they started with.
func (s *Server) handlePromptPut(c echo.Context) error {
	var req promptPutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content must not be empty")
	}
	name := c.Param("name")
	if err := s.prompts.Put(c.Request().Context(), name, req.Content); err != nil {
		return err
	}
	slog.Info("prompt updated", "name", name)
	return c.NoContent(http.StatusNoContent)
}

type llmSwitchRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// handleLLMSwitch hot-swaps the chat provider. In-flight turns finish on
// the provider they started with.
func (s *Server) handleLLMSwitch(c echo.Context) error {
	var req llmSwitchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	provider, err := newProvider(s.Profile, req.Provider, req.Model)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	config, _ := json.Marshal(map[string]string{"model": provider.Model()})
	if _, err := s.Store.ActivateLLMSetting(c.Request().Context(), req.Provider, string(config)); err != nil {
		return err
	}
	s.gateway.Use(provider)

	return c.JSON(http.StatusOK, map[string]string{
		"provider": provider.Name(),
		"model":    provider.Model(),
	})
}

func (s *Server) handleUsage(c echo.Context) error {
	summary, err := s.guard.MonthlySummary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// handleUsageReset re-enables the gateway after the monthly kill switch
// tripped, or after limits were raised.
func (s *Server) handleUsageReset(c echo.Context) error {
	s.guard.Reset()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleLeadList(c echo.Context) error {
	find := &store.FindLead{}
	if raw := c.QueryParam("status"); raw != "" {
		status := store.LeadStatus(raw)
		find.Status = &status
	}
	leads, err := s.Store.ListLeads(c.Request().Context(), find)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, leads)
}
