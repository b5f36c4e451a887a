package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/classsync"
	"github.com/lexigrade/lexigrade-api/internal/models"
	"github.com/lexigrade/lexigrade-api/internal/realtime"
	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

const (
	readLimit   = 8 << 10
	pongWait    = 60 * time.Second
	joinTimeout = 10 * time.Second
	actionJoin  = "join"
	actionLeave = "leave"
)

// clientMessage is what websocket clients send: join or leave a class room.
type clientMessage struct {
	Action  string `json:"action"`
	ClassID string `json:"class_id"`
}

// RealtimeHandler upgrades websocket requests and drives the read loop.
// Tokens are passed as a query parameter because browsers cannot set
// headers on websocket handshakes.
type RealtimeHandler struct {
	hub      *realtime.Hub
	auth     *service.AuthService
	classes  *service.ClassService
	metrics  *service.MetricsService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, auth *service.AuthService, classes *service.ClassService, metrics *service.MetricsService, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{
		hub:     hub,
		auth:    auth,
		classes: classes,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve godoc
// @Summary Realtime class updates
// @Description Websocket endpoint; send {"action":"join","class_id":...} to receive a snapshot followed by live changes
// @Tags Realtime
// @Param token query string true "Access token"
// @Success 101 {string} string "switching protocols"
// @Router /ws [get]
func (h *RealtimeHandler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := realtime.NewConnection(claims.UserID, ws, 0)
	h.hub.Attach(conn)
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}

	go h.readLoop(ws, conn, claims)
}

// readLoop consumes client messages until the socket drops. Join requests
// re-check class membership; the session load inside the hub still fails
// closed on its own.
func (h *RealtimeHandler) readLoop(ws *websocket.Conn, conn *realtime.Connection, claims *models.JWTClaims) {
	defer func() {
		h.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
		if h.metrics != nil {
			h.metrics.ConnectionClosed()
		}
	}()

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.ClassID == "" {
			h.sendError(conn, msg.ClassID, "malformed message")
			continue
		}

		switch msg.Action {
		case actionJoin:
			if err := h.joinClass(conn, claims, msg.ClassID); err != nil {
				h.logger.Warn("class join rejected",
					zap.String("class_id", msg.ClassID),
					zap.String("user_id", claims.UserID),
					zap.Error(err))
				h.sendError(conn, msg.ClassID, "cannot join class")
			}
		case actionLeave:
			h.hub.LeaveClass(conn, msg.ClassID)
		default:
			h.sendError(conn, msg.ClassID, "unknown action")
		}
	}
}

// joinClass re-checks membership and puts the connection in the class
// room. The timeout bounds the membership check and the session's initial
// load only; an opened session lives until its room empties, not until
// this ctx cancels.
func (h *RealtimeHandler) joinClass(conn *realtime.Connection, claims *models.JWTClaims, classID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	if err := h.classes.AuthorizeMembership(ctx, classID, *claims); err != nil {
		return err
	}
	return h.hub.JoinClass(ctx, conn, classsync.SessionConfig{
		ClassID: classID,
		UserID:  claims.UserID,
		Role:    claims.Role,
	})
}

func (h *RealtimeHandler) sendError(conn *realtime.Connection, classID, reason string) {
	payload, err := json.Marshal(gin.H{"kind": "error", "class_id": classID, "reason": reason})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}
