package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

// UserHandler serves the participant roster
type UserHandler struct {
	Roster store.Roster
}

// NewUserHandler creates a new user handler
func NewUserHandler(roster store.Roster) *UserHandler {
	return &UserHandler{Roster: roster}
}

// RegisterRoutes mounts the roster routes on rg
func (h *UserHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.GetMe)
	rg.GET("/users", h.GetAllUsers)
}

// GetMe returns the roster entry of the authenticated user
func (h *UserHandler) GetMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	participant, err := h.Roster.GetParticipant(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "get participant", err)
		return
	}

	c.JSON(http.StatusOK, participant)
}

// GetAllUsers returns every participant except the caller
func (h *UserHandler) GetAllUsers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	participants, err := h.Roster.ListParticipants(c.Request.Context())
	if err != nil {
		respondError(c, "list participants", err)
		return
	}

	others := make([]*models.Participant, 0, len(participants))
	for _, p := range participants {
		if p.ID != userID {
			others = append(others, p)
		}
	}

	c.JSON(http.StatusOK, others)
}
