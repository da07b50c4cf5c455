package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
)

type topicRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) listTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"topics": s.topics.Topics()})
}

func (s *Server) registerTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic required")
		return
	}
	if err := s.topics.RegisterTopic(req.Topic); err != nil {
		if errors.Is(err, crawler.ErrTopicExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.topics.Topic(req.Topic)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"topic": status})
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	status, err := s.topics.Topic(chi.URLParam(r, "topic"))
	if err != nil {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": status})
}

func (s *Server) unregisterTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.topics.UnregisterTopic(chi.URLParam(r, "topic")); err != nil {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rearmTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "topic")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.topics.Rearm(ctx, name); err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "topic not found")
			return
		}
		s.logger.Error("rearm topic failed", zap.String("topic", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to rearm topic")
		return
	}
	status, err := s.topics.Topic(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"topic": status})
}
