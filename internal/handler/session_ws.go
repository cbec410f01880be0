package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"humgo/internal/domain"
	"humgo/internal/middleware"
	"humgo/internal/service"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 << 10
	wsReplyQueue = 16
)

// Session command types accepted over the WebSocket.
const (
	CommandCreateTrip      = "create_trip"
	CommandUpdateStatus    = "update_status"
	CommandCancelTrip      = "cancel_trip"
	CommandGenerateMatches = "generate_matches"
	CommandOpenThread      = "open_thread"
	CommandCloseThread     = "close_thread"
	CommandSendMessage     = "send_message"
)

// SessionCommand is one client request on the session socket. ID is echoed
// in the reply.
type SessionCommand struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	TripID   string             `json:"trip_id,omitempty"`
	MatchID  string             `json:"match_id,omitempty"`
	Status   string             `json:"status,omitempty"`
	RadiusKm float64            `json:"radius_km,omitempty"`
	Text     string             `json:"text,omitempty"`
	ClientID string             `json:"client_id,omitempty"`
	Trip     *CreateTripRequest `json:"trip,omitempty"`
}

// SessionEvent is pushed to the client: "state" snapshots, and "ack" or
// "error" replies to commands.
type SessionEvent struct {
	Type  string         `json:"type"`
	ID    string         `json:"id,omitempty"`
	Error string         `json:"error,omitempty"`
	Code  int            `json:"code,omitempty"`
	State *StateResponse `json:"state,omitempty"`
	Data  any            `json:"data,omitempty"`
}

// StateResponse is the wire form of a session snapshot.
type StateResponse struct {
	UserID          string            `json:"user_id"`
	CurrentTrip     *TripResponse     `json:"current_trip"`
	Matches         []MatchResponse   `json:"matches"`
	MatchesLoading  bool              `json:"matches_loading"`
	MessagesMatchID string            `json:"messages_match_id,omitempty"`
	Messages        []MessageResponse `json:"messages"`
	MessagesLoading bool              `json:"messages_loading"`
	Generation      uint64            `json:"generation"`
}

// SessionHandler serves live sessions over WebSocket.
type SessionHandler struct {
	tripService     *service.TripService
	matchingService *service.MatchingService
	messageService  *service.MessageService
	logger          *zap.Logger
	upgrader        websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler. allowedOrigins limits the
// browser origins that may open a socket; "*" allows any.
func NewSessionHandler(
	tripService *service.TripService,
	matchingService *service.MatchingService,
	messageService *service.MessageService,
	logger *zap.Logger,
	allowedOrigins []string,
) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		tripService:     tripService,
		matchingService: matchingService,
		messageService:  messageService,
		logger:          logger.Named("session_ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /v1/session/ws
func (h *SessionHandler) ServeWS(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		respondJSON(c, http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(conn, h.logger.With(zap.String("user_id", identity.ID)))
	session := service.NewSession(h.tripService, h.matchingService, h.messageService, h.logger, client.pushState)

	go client.writeLoop()
	defer client.close()
	defer session.Close()

	if err := session.SwitchUser(identity); err != nil {
		client.reply(errorEvent("", err))
		return
	}
	session.ListenToUserActiveTrip(identity.ID)

	h.readLoop(client, session, identity)
}

func (h *SessionHandler) readLoop(client *wsClient, session *service.Session, identity domain.Identity) {
	conn := client.conn
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closeThread func()
	defer func() {
		if closeThread != nil {
			closeThread()
		}
	}()

	for {
		var cmd SessionCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		data, err := h.dispatch(ctx, session, identity, cmd, &closeThread)
		if err != nil {
			client.reply(errorEvent(cmd.ID, err))
			continue
		}
		client.reply(SessionEvent{Type: "ack", ID: cmd.ID, Data: data})
	}
}

func (h *SessionHandler) dispatch(ctx context.Context, session *service.Session, identity domain.Identity, cmd SessionCommand, closeThread *func()) (any, error) {
	switch cmd.Type {
	case CommandCreateTrip:
		if cmd.Trip == nil || cmd.Trip.Pickup == nil || cmd.Trip.Dropoff == nil ||
			cmd.Trip.Pickup.Latitude == nil || cmd.Trip.Pickup.Longitude == nil ||
			cmd.Trip.Dropoff.Latitude == nil || cmd.Trip.Dropoff.Longitude == nil {
			return nil, service.ErrInvalidTrip
		}
		result, err := session.CreateTrip(ctx, service.CreateTripRequest{
			TripID:         cmd.Trip.TripID,
			Pickup:         toLocation(cmd.Trip.Pickup),
			Dropoff:        toLocation(cmd.Trip.Dropoff),
			VehicleType:    domain.VehicleType(cmd.Trip.VehicleType),
			EstimatedPrice: cmd.Trip.EstimatedPrice,
		})
		if err != nil {
			return nil, err
		}
		response := CreateTripResponse{Duplicate: result.Duplicate, CancelledTripIDs: result.CancelledTripIDs}
		if result.Trip != nil {
			tr := toTripResponse(result.Trip)
			response.Trip = &tr
		}
		return response, nil

	case CommandUpdateStatus:
		trip, err := session.UpdateTripStatus(ctx, cmd.TripID, domain.TripStatus(cmd.Status))
		if err != nil {
			return nil, err
		}
		return toTripResponse(trip), nil

	case CommandCancelTrip:
		return nil, session.CancelTrip(ctx, cmd.TripID)

	case CommandGenerateMatches:
		trip, err := h.tripService.GetTrip(ctx, cmd.TripID)
		if err != nil {
			return nil, err
		}
		if trip.UserID != identity.ID {
			return nil, service.ErrNotTripOwner
		}
		return nil, session.GenerateMatches(trip, cmd.RadiusKm)

	case CommandOpenThread:
		*closeThread = session.ListenToMessages(cmd.MatchID)
		return nil, nil

	case CommandCloseThread:
		if *closeThread != nil {
			(*closeThread)()
			*closeThread = nil
		}
		return nil, nil

	case CommandSendMessage:
		msg, err := session.AddMessage(ctx, service.AddMessageRequest{
			MatchID:  cmd.MatchID,
			Text:     cmd.Text,
			TripID:   cmd.TripID,
			ClientID: cmd.ClientID,
		})
		if err != nil {
			return nil, err
		}
		return toMessageResponse(msg), nil
	}

	return nil, errUnknownCommand
}

var errUnknownCommand = errors.New("unknown command")

func errorEvent(id string, err error) SessionEvent {
	if errors.Is(err, errUnknownCommand) {
		return SessionEvent{Type: "error", ID: id, Error: err.Error(), Code: http.StatusBadRequest}
	}
	code := mapErrorToHTTPStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	return SessionEvent{Type: "error", ID: id, Error: msg, Code: code}
}

// wsClient owns the write side of a socket. State snapshots are coalesced:
// a slow client only ever receives the latest one.
type wsClient struct {
	conn   *websocket.Conn
	logger *zap.Logger

	mu      sync.Mutex
	latest  *service.State
	stateCh chan struct{}
	replies chan SessionEvent

	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, logger *zap.Logger) *wsClient {
	return &wsClient{
		conn:    conn,
		logger:  logger,
		stateCh: make(chan struct{}, 1),
		replies: make(chan SessionEvent, wsReplyQueue),
		done:    make(chan struct{}),
	}
}

func (w *wsClient) pushState(st service.State) {
	w.mu.Lock()
	w.latest = &st
	w.mu.Unlock()

	select {
	case w.stateCh <- struct{}{}:
	default:
	}
}

func (w *wsClient) reply(evt SessionEvent) {
	select {
	case w.replies <- evt:
	case <-w.done:
	}
}

func (w *wsClient) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
}

func (w *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer w.close()

	for {
		var evt SessionEvent
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		case evt = <-w.replies:
		case <-w.stateCh:
			w.mu.Lock()
			st := w.latest
			w.mu.Unlock()
			if st == nil {
				continue
			}
			evt = SessionEvent{Type: "state", State: toStateResponse(*st)}
		}

		_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := w.conn.WriteJSON(evt); err != nil {
			w.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func toStateResponse(st service.State) *StateResponse {
	resp := &StateResponse{
		UserID:          st.UserID,
		Matches:         make([]MatchResponse, 0, len(st.Matches)),
		MatchesLoading:  st.MatchesLoading,
		MessagesMatchID: st.MessagesMatchID,
		Messages:        make([]MessageResponse, 0, len(st.Messages)),
		MessagesLoading: st.MessagesLoading,
		Generation:      st.Generation,
	}
	if st.CurrentTrip != nil {
		tr := toTripResponse(st.CurrentTrip)
		resp.CurrentTrip = &tr
	}
	for i := range st.Matches {
		resp.Matches = append(resp.Matches, toMatchResponse(&st.Matches[i]))
	}
	for i := range st.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(&st.Messages[i]))
	}
	return resp
}
