package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"carinspect/internal/domain"
	"carinspect/internal/events"
	"carinspect/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventNewInspectionBooked   = "newInspectionBooked"
	EventInspectionConfirmed   = "inspectionConfirmed"
	EventInspectionCompleted   = "inspectionCompleted"
	EventInspectionRescheduled = "inspectionRescheduled"

	connBuffer        = 16
	heartbeatInterval = 25 * time.Second
	presenceTimeout   = 3 * time.Second
)

// Message is one pushed event.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Subscription is a live connection of one user.
type Subscription struct {
	ID     string
	UserID int64
	C      <-chan Message

	ch chan Message
}

// Hub fans lifecycle events out to connected users. Delivery is best effort:
// a full connection buffer drops the message.
type Hub struct {
	presence domain.PresenceRepository
	users    domain.UserRepository
	logger   *zerolog.Logger

	mu    sync.RWMutex
	conns map[int64]map[string]*Subscription
}

func NewHub(presence domain.PresenceRepository, users domain.UserRepository, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		presence: presence,
		users:    users,
		logger:   logger,
		conns:    make(map[int64]map[string]*Subscription),
	}
}

// Connect registers a connection and marks the user online.
func (h *Hub) Connect(ctx context.Context, userID int64) (*Subscription, error) {
	ch := make(chan Message, connBuffer)
	sub := &Subscription{ID: uuid.NewString(), UserID: userID, C: ch, ch: ch}

	if err := h.presence.AddConnection(ctx, userID, sub.ID); err != nil {
		return nil, fmt.Errorf("register presence: %w", err)
	}

	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[string]*Subscription)
	}
	h.conns[userID][sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug().Int64("user_id", userID).Str("conn_id", sub.ID).Msg("push connection opened")
	return sub, nil
}

// Disconnect removes the connection and its presence entry.
func (h *Hub) Disconnect(ctx context.Context, sub *Subscription) {
	h.mu.Lock()
	if conns, ok := h.conns[sub.UserID]; ok {
		if _, ok := conns[sub.ID]; ok {
			delete(conns, sub.ID)
			close(sub.ch)
		}
		if len(conns) == 0 {
			delete(h.conns, sub.UserID)
		}
	}
	h.mu.Unlock()

	if err := h.presence.RemoveConnection(ctx, sub.UserID, sub.ID); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", sub.UserID).Msg("remove presence")
	}
	h.logger.Debug().Int64("user_id", sub.UserID).Str("conn_id", sub.ID).Msg("push connection closed")
}

// Emit sends to every local connection of userID and returns how many accepted it.
func (h *Hub) Emit(userID int64, event string, data any) int {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode push payload")
		return 0
	}
	msg := Message{Event: event, Data: raw}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.conns[userID] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			h.logger.Warn().Int64("user_id", userID).Str("conn_id", sub.ID).Str("event", event).Msg("push buffer full, message dropped")
		}
	}
	return delivered
}

// EmitToAdmins pushes to every admin that is online.
func (h *Hub) EmitToAdmins(ctx context.Context, event string, data any) int {
	admins, err := h.users.ListAdmins(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("load admins for push")
		return 0
	}

	delivered := 0
	for _, admin := range admins {
		online, err := h.presence.IsOnline(ctx, admin.ID)
		if err != nil {
			h.logger.Warn().Err(err).Int64("user_id", admin.ID).Msg("presence lookup")
			continue
		}
		if online {
			delivered += h.Emit(admin.ID, event, data)
		}
	}
	return delivered
}

// Register subscribes the hub to lifecycle events.
func (h *Hub) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventInspectionBooked, h.handleEvent)
	bus.Subscribe(events.EventInspectionConfirmed, h.handleEvent)
	bus.Subscribe(events.EventInspectionCompleted, h.handleEvent)
	bus.Subscribe(events.EventInspectionRescheduled, h.handleEvent)
}

type pushPayload struct {
	Ref        string             `json:"ref"`
	Inspection *models.Inspection `json:"inspection"`
}

func (h *Hub) handleEvent(event *events.Event) error {
	payload, err := events.DecodeInspectionEvent(event)
	if err != nil {
		return err
	}
	inspection := payload.Inspection
	data := pushPayload{Ref: inspection.Ref(), Inspection: inspection}

	switch event.Type {
	case events.EventInspectionBooked:
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if h.EmitToAdmins(ctx, EventNewInspectionBooked, data) == 0 {
			h.logger.Debug().Str("inspection_id", inspection.ID).Msg("no admin online, email only")
		}
	case events.EventInspectionConfirmed:
		h.Emit(inspection.CustomerID, EventInspectionConfirmed, data)
	case events.EventInspectionCompleted:
		h.Emit(inspection.CustomerID, EventInspectionCompleted, data)
	case events.EventInspectionRescheduled:
		h.Emit(inspection.CustomerID, EventInspectionRescheduled, data)
	}
	return nil
}

// ServeSSE streams pushed events to userID until the client goes away.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, userID int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.Connect(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("open push connection")
		http.Error(w, "push unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.Disconnect(context.WithoutCancel(r.Context()), sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected %s\n\n", sub.ID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
		}
	}
}

// Online reports how many local connections userID has.
func (h *Hub) Online(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}
