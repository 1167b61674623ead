package commander

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const maxPayloadBytes = 1 << 20

type missionView struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
}

func (s *Service) registerRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "commander",
			"durable":   s.store.HasDurable(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/missions", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
		if err != nil || len(body) > maxPayloadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mission payload"})
			return
		}
		m, err := s.commander.CreateMission(c.Request.Context(), body)
		switch {
		case errors.Is(err, ErrInvalidPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mission payload"})
			return
		case errors.Is(err, ErrDispatchFailed):
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":      "mission dispatch failed",
				"mission_id": m.ID,
			})
			return
		case err != nil:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"mission_id": m.ID,
			"status":     m.Status.String(),
			"message":    "mission dispatched",
		})
	})

	r.GET("/missions", func(c *gin.Context) {
		entries, err := s.commander.ListMissions(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status store unavailable"})
			return
		}
		out := make([]missionView, 0, len(entries))
		for _, e := range entries {
			out = append(out, missionView{MissionID: e.MissionID, Status: e.Status.String()})
		}
		c.JSON(http.StatusOK, gin.H{"missions": out})
	})

	r.GET("/missions/:id", func(c *gin.Context) {
		id := c.Param("id")
		status, err := s.commander.GetMissionStatus(c.Request.Context(), id)
		switch {
		case errors.Is(err, ErrMissionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "mission not found"})
			return
		case err != nil:
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status store unavailable"})
			return
		}
		c.JSON(http.StatusOK, missionView{MissionID: id, Status: status.String()})
	})

	r.POST("/tokens", func(c *gin.Context) {
		tok := s.commander.IssueToken()
		log.Debug().Time("expires_at", tok.ExpiresAt).Msg("commander token issued")
		c.JSON(http.StatusOK, tok)
	})
}
