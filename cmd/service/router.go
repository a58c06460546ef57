package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/app/response"
	"github.com/deckforge/deckforge/cmd/service/handler"
	"github.com/deckforge/deckforge/cmd/service/middleware"
)

// serve runs the monitor until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, core *core.Core) error {
	httpSrv := &handler.HttpSrv{
		Core:   core,
		Engine: core.HttpEngine(),
	}
	setupHttpRouter(httpSrv)

	server := &http.Server{
		Addr:    core.Cfg().Monitor.Addr,
		Handler: core.HttpEngine(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("monitor listening", slog.String("component", "monitor"), slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupHttpRouter(s *handler.HttpSrv) {
	s.Engine.Use(gin.Recovery(), middleware.AccessLog)
	s.Engine.GET("/metrics", s.Core.Metrics().Handler())

	s.Engine.Use(middleware.I18n(s.Core.I18n()), middleware.AcceptLanguage(s.Core.Lang()), response.NewResponse())
	s.Engine.Use(middleware.Cors)
	apiV1 := s.Engine.Group("/api/v1")
	{
		apiV1.GET("/connect", handler.Websocket(s.Core))
		apiV1.GET("/health", s.Health)
		apiV1.GET("/state", s.GetState)

		notifications := apiV1.Group("/notifications")
		{
			notifications.GET("", s.ListNotifications)
			notifications.DELETE("/:id", s.DeleteNotification)
		}

		task := apiV1.Group("/task")
		{
			task.POST("/retry", s.RetryConnection)
			task.POST("/feedback", s.SubmitFeedback)
			task.GET("/logs", s.GetLLMLogs)
		}
	}
}
