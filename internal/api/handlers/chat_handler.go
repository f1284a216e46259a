package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/babililo/relay/internal/channel"
	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/relay"
	"github.com/babililo/relay/internal/repositories/postgres"
	"github.com/babililo/relay/internal/services"
	"github.com/babililo/relay/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ChatHandler is the thin front-end adapter: it owns the WebSocket,
// turns inbound frames into pipeline requests, and hands the pipeline
// a per-connection delivery channel.
type ChatHandler struct {
	pipeline *relay.Pipeline
	contexts services.ContextService
	convos   services.ConversationService
	users    postgres.UserRepo
	rdb      *redis.Client
	isAdmin  func(entityID string) bool
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewChatHandler(pipeline *relay.Pipeline, contexts services.ContextService, convos services.ConversationService, users postgres.UserRepo, rdb *redis.Client, isAdmin func(string) bool, logger *logrus.Logger) *ChatHandler {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ChatHandler{
		pipeline: pipeline,
		contexts: contexts,
		convos:   convos,
		users:    users,
		rdb:      rdb,
		isAdmin:  isAdmin,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type chatClientMsg struct {
	Type  string `json:"type"` // "message" | "regenerate" | "clear" | "set_model" | "document" | "action"
	Text  string `json:"text,omitempty"`
	Model string `json:"model,omitempty"`
	Data  string `json:"data,omitempty"` // round-tripped action data
}

// inflight tracks the cancel funcs of streams started on one
// connection so "clear" (and connection teardown) can stop them.
type inflight struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	next    int
}

func (f *inflight) add(cancel context.CancelFunc) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancels == nil {
		f.cancels = make(map[string]context.CancelFunc)
	}
	f.next++
	id := strconv.Itoa(f.next)
	f.cancels[id] = cancel
	return id
}

func (f *inflight) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cancels, id)
}

func (f *inflight) cancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, cancel := range f.cancels {
		cancel()
		delete(f.cancels, id)
	}
}

func (h *ChatHandler) ChatWS(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}
	privileged := isPrivileged(c) || h.isAdmin(entityID)

	user, err := h.users.GetOrCreate(c.Request.Context(), &models.User{
		EntityID:   entityID,
		Privileged: privileged,
	})
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, "ChatHandler.ChatWS", "failed to resolve user", err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	sink := channel.NewWSChannel(conn)
	streams := &inflight{}
	defer streams.cancelAll()

	connCtx, cancelConn := context.WithCancel(context.Background())
	defer cancelConn()

	log := h.logger.WithField("entity_id", entityID)

	if user.Banned {
		_, _ = sink.Send(connCtx, "⛔ You have been banned from using this bot.", channel.SendOptions{Mode: channel.ModePlain})
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		return nil
	})

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))

		var msg chatClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_, _ = sink.Send(connCtx, "Invalid message.", channel.SendOptions{Mode: channel.ModePlain})
			continue
		}

		switch msg.Type {
		case "message":
			if msg.Text == "" {
				continue
			}
			h.startRun(connCtx, streams, log, func(ctx context.Context) (*relay.Outcome, error) {
				return h.pipeline.Handle(ctx, relay.Request{
					EntityID:   entityID,
					Input:      msg.Text,
					Model:      user.SelectedModel,
					Privileged: privileged || user.Privileged,
					Sink:       sink,
				})
			})

		case "regenerate":
			h.startRun(connCtx, streams, log, func(ctx context.Context) (*relay.Outcome, error) {
				return h.pipeline.Regenerate(ctx, entityID, relay.Request{
					Model:      user.SelectedModel,
					Privileged: privileged || user.Privileged,
					Sink:       sink,
				})
			})

		case "clear":
			// Stop any in-flight stream before ending the conversation
			// so nothing keeps appending to it.
			streams.cancelAll()
			h.contexts.ClearDocumentContext(entityID)
			if err := h.convos.Clear(connCtx, entityID); err != nil {
				log.WithError(err).Warn("conversation clear failed")
				_, _ = sink.Send(connCtx, msgOf(err), channel.SendOptions{Mode: channel.ModePlain})
				continue
			}
			_, _ = sink.Send(connCtx, "🗑 Conversation cleared.", channel.SendOptions{Mode: channel.ModePlain})

		case "set_model":
			if msg.Model == "" {
				continue
			}
			if err := h.users.SetModel(connCtx, entityID, msg.Model); err != nil {
				log.WithError(err).Warn("model update failed")
				continue
			}
			user.SelectedModel = msg.Model
			_, _ = sink.Send(connCtx, "Model set to "+msg.Model+".", channel.SendOptions{Mode: channel.ModePlain})

		case "document":
			if msg.Text == "" {
				continue
			}
			h.contexts.SetDocumentContext(entityID, msg.Text)
			_, _ = sink.Send(connCtx, "📄 Document attached. Ask me about it.", channel.SendOptions{Mode: channel.ModePlain})

		case "action":
			h.handleAction(connCtx, streams, log, sink, entityID, user, privileged, msg.Data)

		default:
			_, _ = sink.Send(connCtx, "Unknown message type.", channel.SendOptions{Mode: channel.ModePlain})
		}
	}
}

// handleAction dispatches round-tripped action data from a delivered
// response. The turn id is resolved before anything runs so stale
// buttons fail cleanly.
func (h *ChatHandler) handleAction(connCtx context.Context, streams *inflight, log *logrus.Entry, sink channel.Channel, entityID string, user *models.User, privileged bool, data string) {
	switch {
	case strings.HasPrefix(data, "regen:"):
		turnID := strings.TrimPrefix(data, "regen:")
		if _, err := h.convos.Turn(connCtx, turnID); err != nil {
			log.WithError(err).WithField("turn_id", turnID).Warn("action references unknown turn")
			_, _ = sink.Send(connCtx, "That response is no longer available.", channel.SendOptions{Mode: channel.ModePlain})
			return
		}
		h.startRun(connCtx, streams, log, func(ctx context.Context) (*relay.Outcome, error) {
			return h.pipeline.Regenerate(ctx, entityID, relay.Request{
				Model:      user.SelectedModel,
				Privileged: privileged || user.Privileged,
				Sink:       sink,
			})
		})

	default:
		_, _ = sink.Send(connCtx, "Unknown action.", channel.SendOptions{Mode: channel.ModePlain})
	}
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

// Message runs one request with delivery over the entity's Redis
// pub/sub channel instead of a held socket, for deployments where the
// socket-owning front end is a separate process. The HTTP response
// carries the run summary; the answer itself arrives on the channel.
func (h *ChatHandler) Message(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}
	privileged := isPrivileged(c) || h.isAdmin(entityID)

	if h.rdb == nil {
		writeError(c, utils.E(utils.CodeUnavailable, "ChatHandler.Message", "delivery channel unavailable", nil))
		return
	}

	user, err := h.users.GetOrCreate(c.Request.Context(), &models.User{
		EntityID:   entityID,
		Privileged: privileged,
	})
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, "ChatHandler.Message", "failed to resolve user", err))
		return
	}
	if user.Banned {
		writeError(c, utils.E(utils.CodeForbidden, "ChatHandler.Message", "entity is banned", nil))
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Message", "text is required", err))
		return
	}

	out, err := h.pipeline.Handle(c.Request.Context(), relay.Request{
		EntityID:   entityID,
		Input:      req.Text,
		Model:      user.SelectedModel,
		Privileged: privileged || user.Privileged,
		Sink:       channel.NewRedisChannel(h.rdb, entityID),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       out.RunID,
		"denied":       out.Denied,
		"wait_seconds": out.WaitSeconds,
		"segments":     out.Segments,
		"degraded":     out.Degraded,
	})
}

type documentRequest struct {
	Text string `json:"text" binding:"required"`
}

// SetDocument attaches extracted document text to the entity's context.
// The content is excerpted into the system prompt on the next build,
// capped there; clearing the conversation also drops it.
func (h *ChatHandler) SetDocument(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}

	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.SetDocument", "text is required", err))
		return
	}

	h.contexts.SetDocumentContext(entityID, req.Text)
	c.JSON(http.StatusOK, gin.H{"attached": true, "chars": len(req.Text)})
}

func (h *ChatHandler) ClearDocument(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}

	h.contexts.ClearDocumentContext(entityID)
	c.JSON(http.StatusOK, gin.H{"attached": false})
}

// startRun executes one pipeline invocation on its own goroutine with
// its own cancelable context.
func (h *ChatHandler) startRun(connCtx context.Context, streams *inflight, log *logrus.Entry, run func(ctx context.Context) (*relay.Outcome, error)) {
	ctx, cancel := context.WithCancel(connCtx)
	id := streams.add(cancel)

	go func() {
		defer cancel()
		defer streams.remove(id)

		if _, err := run(ctx); err != nil {
			// User-facing messaging already happened inside the
			// pipeline; this is for the operator.
			log.WithError(err).Warn("relay run failed")
		}
	}()
}

func msgOf(err error) string {
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "Something went wrong."
}
