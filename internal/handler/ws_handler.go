package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/middleware"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/response"
	ws "github.com/stemsi/examprep/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a student's invalidations.
type WSHandler struct {
	rdb      *redis.Client
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// InvalidationStream godoc
// WS /ws/v1/student/invalidations
// Relays every invalidation published for the acting user until the
// client disconnects.
func (h *WSHandler) InvalidationStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Int("user_id", claims.UserID).Logger()
	ctx := c.Request.Context()

	sub := h.rdb.Subscribe(ctx, config.CacheKey.UserInvalidationChannel(claims.UserID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		wsLog.Error().Err(err).Msg("Subscribe failed")
		_ = ws.WriteError(conn, "subscription failed")
		return
	}
	messages := sub.Channel()

	if err := ws.WriteTyped(conn, ws.ReadyResponse{Event: ws.EventReady, UserID: claims.UserID}); err != nil {
		return
	}
	wsLog.Info().Msg("Student subscribed to invalidations")

	// The reader only answers pings; every write happens on this goroutine.
	pings := make(chan struct{}, 1)
	closed := make(chan struct{})
	ws.KeepAlive(conn)
	go func() {
		defer close(closed)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
			if msg.Action == ws.ActionPing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	keepAlive := time.NewTicker(ws.PingPeriod)
	defer keepAlive.Stop()

	for {
		select {
		case <-closed:
			wsLog.Debug().Msg("Connection closed")
			return
		case <-ctx.Done():
			return
		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var inv model.Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				wsLog.Warn().Err(err).Msg("Dropping malformed invalidation")
				continue
			}
			if err := ws.WriteTyped(conn, ws.InvalidationResponse{Event: ws.EventInvalidation, Invalidation: inv}); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return
			}
		}
	}
}
