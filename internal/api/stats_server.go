// Package api поднимает отладочный REST-сервер: health-check, статистика
// рассылки и prometheus-метрики.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-replication/internal/logging"
	"github.com/annel0/mmo-replication/internal/middleware"
	"github.com/annel0/mmo-replication/internal/replication"
)

// StatsServer HTTP-сервер со служебными маршрутами
type StatsServer struct {
	server      *http.Server
	broadcaster *replication.Broadcaster
}

// NewStatsServer создаёт сервер на указанном порту
func NewStatsServer(port int, broadcaster *replication.Broadcaster) *StatsServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	pm := middleware.NewPrometheusMiddleware("replication_api")
	router.Use(pm.Handler())
	pm.RegisterMetricsEndpoint(router)

	ss := &StatsServer{
		broadcaster: broadcaster,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	router.GET("/health", ss.handleHealth)
	router.GET("/stats", ss.handleStats)

	return ss
}

// Start запускает сервер в фоне
func (ss *StatsServer) Start() {
	go func() {
		if err := ss.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("StatsServer: %v", err)
		}
	}()
	logging.Info("🌐 Stats API запущен: http://localhost%s", ss.server.Addr)
}

// Stop останавливает сервер с таймаутом
func (ss *StatsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ss.server.Shutdown(ctx)
}

func (ss *StatsServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (ss *StatsServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, ss.broadcaster.Stats())
}
