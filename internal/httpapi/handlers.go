package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"sessionrecorder/internal/export"
	"sessionrecorder/internal/logger"
	"sessionrecorder/internal/screenshot"
	"sessionrecorder/internal/session"
	"sessionrecorder/internal/storage"
	"sessionrecorder/pkg/api"
	"sessionrecorder/pkg/model"
)

// Register 注册全部路由
func Register(e *echo.Echo, svc api.Service, l logger.Logger) {
	if l == nil {
		l = logger.NewNop()
	}
	e.POST("/api/recording/start", startRecording(svc, l))
	e.POST("/api/recording/stop", stopRecording(svc, l))
	e.GET("/api/recording", recordingState(svc))
	e.GET("/api/settings", getSettings(svc))
	e.PUT("/api/settings", putSettings(svc, l))
	e.GET("/api/events", listEvents(svc))
	e.DELETE("/api/events", clearEvents(svc, l))
	e.GET("/api/export", exportEvents(svc, time.Now))
	e.POST("/api/contexts/:id/screenshot", captureScreenshot(svc, l))
	e.GET("/healthz", healthz())
}

type recordingResponse struct {
	Recording bool `json:"isRecording"`
}

type eventsResponse struct {
	Total  int           `json:"total"`
	Events []model.Event `json:"events"`
}

type screenshotResponse struct {
	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func startRecording(svc api.Service, l logger.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.StartRecording(c.Request().Context()); err != nil {
			l.Err(err, "开始录制失败")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, recordingResponse{Recording: true})
	}
}

func stopRecording(svc api.Service, l logger.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.StopRecording(c.Request().Context()); err != nil {
			l.Err(err, "停止录制失败")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, recordingResponse{Recording: false})
	}
}

func recordingState(svc api.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		on, err := svc.Recording(c.Request().Context())
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, recordingResponse{Recording: on})
	}
}

func getSettings(svc api.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := svc.Settings(c.Request().Context())
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, s)
	}
}

func putSettings(svc api.Service, l logger.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if !json.Valid(body) {
			return c.String(http.StatusBadRequest, "invalid settings json")
		}
		s, err := svc.UpdateSettings(c.Request().Context(), body)
		if err != nil {
			var pe *storage.PersistenceError
			if errors.As(err, &pe) {
				l.Err(err, "保存配置失败")
				return c.String(http.StatusInternalServerError, err.Error())
			}
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, s)
	}
}

func listEvents(svc api.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		events, err := svc.Events(c.Request().Context())
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if events == nil {
			events = []model.Event{}
		}
		return c.JSON(http.StatusOK, eventsResponse{Total: len(events), Events: events})
	}
}

func clearEvents(svc api.Service, l logger.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.ClearEvents(c.Request().Context()); err != nil {
			l.Err(err, "清空事件失败")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func exportEvents(svc api.Service, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		events, err := svc.Events(c.Request().Context())
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		ts := now()
		data, err := export.Marshal(export.Build(events, ts))
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+export.FileName(ts)+`"`)
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
	}
}

func captureScreenshot(svc api.Service, l logger.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := model.ContextID(c.Param("id"))
		img, err := svc.CaptureScreenshot(c.Request().Context(), id)
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, screenshotResponse{Screenshot: img})
		case errors.Is(err, session.ErrUnknownContext):
			return c.JSON(http.StatusNotFound, screenshotResponse{Error: err.Error()})
		case errors.Is(err, screenshot.ErrUnavailable), errors.Is(err, model.ErrContextInvalidated):
			l.Warn("截图不可用", "context", string(id), "error", err.Error())
			return c.JSON(http.StatusServiceUnavailable, screenshotResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, screenshotResponse{Error: err.Error()})
	}
}
