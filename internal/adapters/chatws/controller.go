package chatws

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/app"
	"github.com/realtimeconnect/hub/internal/app/chat"
	"github.com/realtimeconnect/hub/internal/config"
	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller runs the chat websocket protocol: the first text frame is the
// requested handle, every following frame is a chat line.
type Controller struct {
	Registry *app.Registry
	Rooms    *app.Partition
	Router   *chat.Router
	Cfg      *config.Config
	Limiter  *RateLimiter
}

func NewController(registry *app.Registry, rooms *app.Partition, router *chat.Router, cfg *config.Config) *Controller {
	return &Controller{
		Registry: registry,
		Rooms:    rooms,
		Router:   router,
		Cfg:      cfg,
		Limiter:  NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateInterval),
	}
}

func (ctl *Controller) HandleChat(ctx context.Context, c *gin.Context) {
	username := c.GetString("username")
	room := domain.RoomID(c.Query("room"))
	privileged := username != "" && username == ctl.Cfg.AdminUser

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "chatws").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := newConn(ws)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go conn.writePump(ctx, ctl.Cfg.PingPeriod)

	// First frame carries the requested handle; the authenticated username
	// is the fallback.
	_, first, err := ws.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	requested := strings.TrimSpace(string(first))
	if requested == "" {
		requested = username
	}

	handle, renamed, err := ctl.Registry.Register(requested, privileged, conn)
	if err != nil {
		_ = conn.TrySend(core.Frame(`{"username":"System","message":"ERROR: Username cannot be empty"}`))
		conn.Close()
		return
	}

	if err := ctl.Rooms.Join(handle, "", room, privileged); err != nil {
		log.Warn().Err(err).Str("module", "chatws").Str("handle", handle).Str("room", string(room)).Msg("join rejected")
		ctl.Router.Notice(handle, fmt.Sprintf("cannot join meeting %q", room))
		ctl.Registry.Unregister(handle)
		conn.Close()
		return
	}
	ctl.Registry.SetRoom(handle, room)

	if renamed {
		ctl.Router.Notice(handle, fmt.Sprintf("that name was taken, you are now known as %s", handle))
	}
	log.Info().Str("module", "chatws").Str("handle", handle).Str("room", string(room)).Msg("chat connected")
	ctl.Router.SystemBroadcast(room, fmt.Sprintf("User %s joined the meeting.", handle))

	ctl.readLoop(ctx, handle, ws)
	ctl.disconnect(handle, conn)
}

func (ctl *Controller) readLoop(ctx context.Context, handle string, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "chatws").Str("handle", handle).Msg("read loop ended")
			return
		}
		if !ctl.Limiter.Allow(handle) {
			ctl.Router.Notice(handle, "you are sending messages too quickly")
			continue
		}
		ctl.Router.HandleText(handle, string(data))
	}
}

// disconnect treats a transport close as a normal termination event: the
// identity is unregistered and its meeting notified, even when the close
// happens mid-negotiation.
func (ctl *Controller) disconnect(handle string, conn *wsChatConn) {
	room, registered := ctl.Registry.Unregister(handle)
	ctl.Rooms.Leave(handle, "")
	ctl.Limiter.Forget(handle)
	conn.Close()
	if registered && room != "" {
		ctl.Router.SystemBroadcast(room, fmt.Sprintf("User %s left the meeting.", handle))
	}
	log.Info().Str("module", "chatws").Str("handle", handle).Msg("chat disconnected")
}
