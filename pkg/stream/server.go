// Package stream serves the latest debug frame of a pipeline as MJPEG.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

const boundary = "FRAME"

const page = `<html>
  <head>
    <title>tagvision</title>
    <style>
      body { background-color: black; }
      img {
        position: absolute;
        left: 50%;
        top: 50%;
        transform: translate(-50%, -50%);
        max-width: 100%;
        max-height: 100%;
      }
    </style>
  </head>
  <body>
    <img src="stream.mjpg" />
  </body>
</html>
`

// Server holds one JPEG frame and streams it to any number of viewers.
// Each instance counts its own viewers.
type Server struct {
	name     string
	interval time.Duration
	viewers  atomic.Int64

	mu    sync.RWMutex
	frame []byte
	seq   uint64

	router *gin.Engine
	srv    *http.Server
}

// New creates a server. name only appears in logs.
func New(name string) *Server {
	s := &Server{name: name, interval: 10 * time.Millisecond}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/", s.index)
	router.GET("/stream.mjpg", s.stream)
	s.router = router
	return s
}

// Handler exposes the routes for embedding or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on port in the background.
func (s *Server) Start(port int) {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("stream server listening", "stream", s.name, "port", port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("stream server stopped", "stream", s.name, "error", err)
		}
	}()
}

// Close stops accepting viewers and closes open streams.
func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return s.srv.Close()
	}
	return nil
}

// SetFrame replaces the frame served to viewers.
func (s *Server) SetFrame(jpeg []byte) {
	s.mu.Lock()
	s.frame = jpeg
	s.seq++
	s.mu.Unlock()
}

// Viewers returns the number of connected stream viewers.
func (s *Server) Viewers() int {
	return int(s.viewers.Load())
}

func (s *Server) current() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.seq
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html", []byte(page))
}

func (s *Server) stream(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}

	c.Header("Age", "0")
	c.Header("Cache-Control", "no-cache, private")
	c.Header("Pragma", "no-cache")
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Status(http.StatusOK)
	flusher.Flush()

	s.viewers.Add(1)
	defer s.viewers.Add(-1)
	slog.Debug("stream viewer connected", "stream", s.name, "client", c.ClientIP())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-c.Request.Context().Done():
			slog.Debug("stream viewer disconnected", "stream", s.name, "client", c.ClientIP())
			return
		case <-ticker.C:
			frame, seq := s.current()
			if frame == nil || seq == sent {
				continue
			}
			sent = seq
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
