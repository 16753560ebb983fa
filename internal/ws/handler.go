package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/fanout"
	"github.com/Kmccabe/bTree-sub000/internal/service/experiment"
	gameSvc "github.com/Kmccabe/bTree-sub000/internal/service/game"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	experimentSvc *experiment.Service
	gameSvc       *gameSvc.Service
	hub           *fanout.Hub
}

func NewHandler(expSvc *experiment.Service, gSvc *gameSvc.Service, hub *fanout.Hub) *Handler {
	return &Handler{experimentSvc: expSvc, gameSvc: gSvc, hub: hub}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

func (h *Handler) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := newClient(conn, h)
	logger.Log.Info("New WebSocket connection", zap.String("clientID", client.id))
	client.run()
}

type client struct {
	id        string
	conn      *websocket.Conn
	h         *Handler
	outbound  chan fanout.Message
	done      chan struct{}
	pingEvery time.Duration
}

func newClient(conn *websocket.Conn, h *Handler) *client {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &client{
		id:        uuid.NewString(),
		conn:      conn,
		h:         h,
		outbound:  make(chan fanout.Message, 16),
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.h.hub.RemoveSubscriber(c.id)
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.String("clientID", c.id))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.sendError("invalid payload")
			continue
		}
		if incoming.Type == "" {
			continue
		}

		if err := c.handleEvent(incoming.Type, incoming.Data); err != nil {
			c.sendError(fmt.Sprintf("%s failed: %v", incoming.Type, err))
		}
	}
}

type experimentChannelEvent struct {
	ExperimentID string `json:"experimentId"`
}

type gameChannelEvent struct {
	GameID string `json:"gameId"`
}

type participantEvent struct {
	ExperimentID string `json:"experimentId"`
	SessionID    string `json:"sessionId"`
}

type decisionEvent struct {
	GameID        string              `json:"gameId"`
	ParticipantID string              `json:"participantId"`
	Decision      gameSvc.StateUpdate `json:"decision"`
}

func (c *client) handleEvent(eventType string, data json.RawMessage) error {
	switch eventType {
	case "joinExperimentChannel":
		var ev experimentChannelEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		c.h.hub.Subscribe(fanout.ExperimentChannel(ev.ExperimentID), c.id, c.outbound)
		snapshot, err := c.h.experimentSvc.ParticipantSnapshot(ev.ExperimentID)
		if err != nil {
			return err
		}
		c.push("participantUpdate", snapshot)
		return nil

	case "joinGameChannel":
		var ev gameChannelEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		c.h.hub.Subscribe(fanout.GameChannel(ev.GameID), c.id, c.outbound)
		sess, err := c.h.gameSvc.Get(ev.GameID)
		if err != nil {
			return err
		}
		c.push("gameStateUpdate", sess.State)
		return nil

	case "participantReady":
		var ev participantEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		c.h.experimentSvc.MarkReady(ev.ExperimentID, ev.SessionID)
		return nil

	case "submitDecision":
		var ev decisionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		_, err := c.h.gameSvc.SubmitDecision(ev.GameID, ev.ParticipantID, ev.Decision)
		return err

	case "heartbeat":
		var ev participantEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		c.h.experimentSvc.Heartbeat(ev.ExperimentID, ev.SessionID)
		return nil

	case "ping":
		c.push("pong", gin.H{"message": "pong"})
		return nil

	default:
		return fmt.Errorf("unsupported event")
	}
}

// push queues a direct message to this client only; broadcasts go through
// the hub instead.
func (c *client) push(msgType string, data interface{}) {
	select {
	case c.outbound <- fanout.Message{Type: msgType, Data: data}:
	default:
		logger.Log.Warn("ws outbound channel full", zap.String("clientID", c.id))
	}
}

func (c *client) sendError(msg string) {
	c.push("error", gin.H{"message": msg})
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Log.Info("WS write error", zap.Error(err), zap.String("clientID", c.id))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
