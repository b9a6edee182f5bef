package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"attendance-console-go/db"
)

const writeWait = 10 * time.Second

// frame is one snapshot pushed to a stream client.
type frame struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
	Items      any    `json:"items,omitempty"`
	Error      string `json:"error,omitempty"`
}

func allowOrigins(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

// streamDecoder maps a collection name to its store path and item decoder.
func (h *APIHandler) streamDecoder(collection, courseID string) (string, func(db.Snapshot) any, bool) {
	switch collection {
	case "students":
		return h.Students.Path(), func(s db.Snapshot) any { return h.Students.Decode(s) }, courseID == ""
	case "courses":
		return h.Courses.Path(), func(s db.Snapshot) any { return h.Courses.Decode(s) }, courseID == ""
	case "enrollments":
		v := h.Enrollments.View(courseID)
		return v.Path(), func(s db.Snapshot) any { return v.Decode(s) }, courseID != ""
	case "attendance":
		v := h.Attendance.View(courseID)
		return v.Path(), func(s db.Snapshot) any { return v.Decode(s) }, courseID != ""
	}
	return "", nil, false
}

// Stream handles GET /api/stream/:collection[/:courseId]. Every snapshot of the
// collection is pushed as one JSON frame until the client disconnects, the session
// that opened the stream ends or the server shuts down.
func (h *APIHandler) Stream(c *gin.Context) {
	collection, courseID := c.Param("collection"), c.Param("courseId")
	path, decode, ok := h.streamDecoder(collection, courseID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown stream"})
		return
	}
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.base)
	defer cancel()

	sub, err := h.Store.Subscribe(ctx, path)
	if err != nil {
		h.Log.Error("stream subscribe failed", zap.String("path", path), zap.Error(err))
		_ = conn.WriteJSON(frame{Collection: collection, Path: path, Error: "Subscription failed"})
		return
	}
	defer sub.Close()

	log := h.Log.With(zap.String("path", path), zap.String("uid", user.UID))
	log.Debug("stream opened")
	defer log.Debug("stream closed")

	// The client never sends anything; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	closeWith := func(code int, reason string) {
		deadline := time.Now().Add(writeWait)
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteJSON(frame{Collection: collection, Path: path, Error: reason})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}
	sessionHeld := func() bool {
		current, ok := h.Gateway.Current()
		return ok && current.UID == user.UID
	}

	for {
		changed := h.Gateway.Changed()
		if !sessionHeld() {
			log.Info("stream closed by sign-out")
			closeWith(websocket.ClosePolicyViolation, "Session has ended")
			return
		}
		select {
		case <-ctx.Done():
			if h.base.Err() != nil {
				closeWith(websocket.CloseGoingAway, "Server shutting down")
			}
			return
		case <-changed:
		case snap, ok := <-sub.C():
			if !ok {
				switch err := sub.Err(); {
				case err != nil:
					log.Error("stream subscription ended", zap.Error(err))
					_ = conn.WriteJSON(frame{Collection: collection, Path: path, Error: "Subscription failed"})
				case h.base.Err() != nil:
					closeWith(websocket.CloseGoingAway, "Server shutting down")
				}
				return
			}
			if !sessionHeld() {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame{Collection: collection, Path: path, Items: decode(snap)}); err != nil {
				log.Debug("stream write failed", zap.Error(err))
				return
			}
		}
	}
}
