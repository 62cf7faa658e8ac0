package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ammar1510/chatsync/internal/auth"
	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

var log = logger.New("api")

// AuthMiddleware validates JWT tokens and sets user info in context. The
// token is read from the Authorization header, or from the token query
// parameter for websocket clients that cannot set headers. When roster is
// not nil, first-seen callers are added to it from their claims.
func AuthMiddleware(verifier *auth.Verifier, roster store.Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := verifier.Validate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		participant, err := auth.Participant(claims)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID format in token"})
			return
		}

		if roster != nil {
			if err := syncParticipant(c, roster, participant); err != nil {
				log.Warn("Failed to sync participant %s: %v", participant.ID, err)
			}
		}

		c.Set("userID", participant.ID)
		c.Set("displayName", participant.DisplayName)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		return token, found && token != ""
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// syncParticipant adds p to the roster, or refreshes the fields its token
// carries. Empty claims never overwrite stored values.
func syncParticipant(c *gin.Context, roster store.Roster, p *models.Participant) error {
	existing, err := roster.GetParticipant(c.Request.Context(), p.ID)
	switch {
	case err == nil:
		merged := *existing
		if p.DisplayName != "" {
			merged.DisplayName = p.DisplayName
		}
		if p.Email != "" {
			merged.Email = p.Email
		}
		if merged == *existing {
			return nil
		}
		p = &merged
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return roster.UpsertParticipant(c.Request.Context(), p)
}
