package collab

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/hupe1980/localmesh/api"
	"github.com/hupe1980/localmesh/core"
)

// Mount registers the collaboration management endpoints on a router:
//
//	GET  /health
//	GET  /api/collab/stats
//	GET  /api/collab/sessions
//	GET  /api/collab/agents
//	POST /api/collab/broadcast
func (s *Server) Mount(router *api.Router) {
	router.Get("/health", s.healthRoute)
	router.Get("/api/collab/stats", s.statsRoute)
	router.Get("/api/collab/sessions", s.sessionsRoute)
	router.Get("/api/collab/agents", s.agentsRoute)
	router.Post("/api/collab/broadcast", s.broadcastRoute)
}

func (s *Server) healthRoute(context.Context, *api.Request) (*api.Response, error) {
	stats := s.Stats()
	return api.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"protocol":  ProtocolName,
		"websocket": "active",
		"performance": map[string]any{
			"uptimeMillis":      stats.UptimeMillis,
			"activeConnections": stats.ActiveConnections,
			"activeSessions":    stats.ActiveSessions,
			"registeredAgents":  stats.RegisteredAgents,
		},
		"timestamp": float64(time.Now().UTC().UnixMilli()),
	})
}

func (s *Server) statsRoute(context.Context, *api.Request) (*api.Response, error) {
	return api.JSON(http.StatusOK, s.Stats())
}

func (s *Server) sessionsRoute(context.Context, *api.Request) (*api.Response, error) {
	sessions := s.Sessions()

	ids := make([]string, 0, len(sessions))
	details := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
		details = append(details, map[string]any{
			"sessionId":    sess.ID,
			"status":       string(sess.Status),
			"agentCount":   len(sess.Agents),
			"taskCount":    len(sess.Tasks),
			"createdAt":    float64(sess.CreatedAt.UnixMilli()),
			"lastActivity": float64(sess.LastActivity.UnixMilli()),
			"metrics":      sess.Metrics,
		})
	}

	return api.JSON(http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": ids,
		"details":  details,
	})
}

func (s *Server) agentsRoute(context.Context, *api.Request) (*api.Response, error) {
	agents := s.Agents()

	capSet := map[string]struct{}{}
	typeSet := map[string]struct{}{}
	for _, agent := range agents {
		for _, capability := range agent.Capabilities {
			capSet[capability] = struct{}{}
		}
		typeSet[agent.Type] = struct{}{}
	}

	return api.JSON(http.StatusOK, map[string]any{
		"count":        len(agents),
		"agents":       agents,
		"capabilities": sortedKeys(capSet),
		"agentTypes":   sortedKeys(typeSet),
	})
}

// broadcastRequest is the POST /api/collab/broadcast body.
type broadcastRequest struct {
	SessionID string         `json:"sessionId,omitempty"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}

func (s *Server) broadcastRoute(_ context.Context, req *api.Request) (*api.Response, error) {
	var body broadcastRequest
	if err := req.Bind(&body); err != nil {
		return api.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	if body.Event == "" {
		return api.JSON(http.StatusBadRequest, map[string]any{"error": "event name required"})
	}
	if core.EventKind(body.Event).Inbound() {
		return api.JSON(http.StatusBadRequest, map[string]any{
			"error": "inbound event kinds cannot be broadcast",
		})
	}

	recipients, err := s.Broadcast(body.SessionID, body.Event, body.Data)
	if err != nil {
		return nil, err
	}

	return api.JSON(http.StatusOK, map[string]any{
		"status":     "sent",
		"event":      body.Event,
		"recipients": recipients,
		"timestamp":  float64(time.Now().UTC().UnixMilli()),
	})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
