package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"humgo/internal/domain"
	"humgo/internal/middleware"
	"humgo/internal/service"
)

// MessageHandler handles HTTP requests for match chat threads.
type MessageHandler struct {
	messageService *service.MessageService
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// SendMessageRequest is the HTTP request body for sending a message.
type SendMessageRequest struct {
	Text     string `json:"text" binding:"required"`
	TripID   string `json:"trip_id" binding:"omitempty,tripid"`
	ClientID string `json:"client_id" binding:"omitempty,max=64"`
}

// MessageResponse is one chat message.
type MessageResponse struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id,omitempty"`
	MatchID   string `json:"match_id"`
	TripID    string `json:"trip_id,omitempty"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// SendMessage handles POST /v1/matches/:id/messages
func (h *MessageHandler) SendMessage(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	msg, err := h.messageService.AddMessage(c.Request.Context(), service.AddMessageRequest{
		MatchID:  c.Param("id"),
		SenderID: identity.ID,
		Text:     req.Text,
		TripID:   req.TripID,
		ClientID: req.ClientID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toMessageResponse(msg))
}

// ListMessages handles GET /v1/matches/:id/messages
func (h *MessageHandler) ListMessages(c *gin.Context) {
	msgs, err := h.messageService.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, toMessageResponse(m))
	}
	respondJSON(c, http.StatusOK, response)
}

func toMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		ClientID:  m.ClientID,
		MatchID:   m.MatchID,
		TripID:    m.TripID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt.Format(timeLayout),
	}
}
