package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Router builds the side port routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.handleHealth)
	r.GET("/docs", s.handleDocs)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws", s.handleWebSocket)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.eng.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"cycle":   stats.Cycle,
		"clients": stats.Clients,
	})
}

func (s *Server) handleDocs(c *gin.Context) {
	data, err := s.registry.GenerateJSONDocs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// handleWebSocket speaks the line protocol over a WebSocket: each text
// message holds one or more request lines, and each reply or stream
// message is sent as its own text message.
func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxLineSize)

	cl := newClient()
	id, err := s.eng.Connect(cl.sink)
	if err != nil {
		return
	}
	cl.setID(id)
	slog.Debug("websocket client connected", "client", id)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case lines := <-cl.out:
				for _, l := range lines {
					if err := ws.WriteMessage(websocket.TextMessage, []byte(l)); err != nil {
						ws.Close()
						return
					}
				}
			case <-cl.slow:
				ws.Close()
				return
			case <-done:
				return
			}
		}
	}()

read:
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		for _, line := range strings.Split(string(msg), "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := s.eng.Send(id, line); err != nil {
				break read
			}
		}
	}
	s.eng.Disconnect(id)
	slog.Debug("websocket client disconnected", "client", id)
}
