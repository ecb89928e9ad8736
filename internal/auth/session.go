package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"udmportal/internal/conversation"
	"udmportal/internal/kv"
	"udmportal/internal/models"
)

const principalContextKey = "auth_principal"

// MarkerFor builds the session marker recorded for a signed-in user.
func MarkerFor(u *models.User) models.SessionMarker {
	return models.SessionMarker{ID: strconv.FormatInt(u.ID, 10), Username: u.Username, Email: u.Email}
}

// WriteSessionMarker records the signed-in identity in the profile's store.
func WriteSessionMarker(ctx context.Context, store kv.Store, m models.SessionMarker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return store.Set(ctx, conversation.SessionKey, string(data))
}

// ReadSessionMarker returns the recorded identity. A missing or unreadable
// marker means nobody is signed in.
func ReadSessionMarker(ctx context.Context, store kv.Store) (models.SessionMarker, bool) {
	raw, ok, err := store.Get(ctx, conversation.SessionKey)
	if err != nil || !ok {
		return models.SessionMarker{}, false
	}
	var m models.SessionMarker
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.Email == "" {
		return models.SessionMarker{}, false
	}
	return m, true
}

func ClearSessionMarker(ctx context.Context, store kv.Store) error {
	return store.Delete(ctx, conversation.SessionKey)
}

// ClearSessionMarkerFor clears the marker only while it still names userID,
// so one account signing out leaves another account's marker alone.
func ClearSessionMarkerFor(ctx context.Context, store kv.Store, userID int64) (bool, error) {
	m, ok := ReadSessionMarker(ctx, store)
	if !ok || m.ID != strconv.FormatInt(userID, 10) {
		return false, nil
	}
	if err := ClearSessionMarker(ctx, store); err != nil {
		return false, err
	}
	return true, nil
}

// RequireUser loads the account behind the token checked by Middleware and
// records it as the request's principal. It must run after Middleware.
func (s *Service) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		user, err := s.User(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "load account failed"})
			return
		}
		c.Set(principalContextKey, MarkerFor(user))
		c.Next()
	}
}

// PrincipalFromContext returns the identity stored by RequireUser.
func PrincipalFromContext(c *gin.Context) (models.SessionMarker, bool) {
	val, ok := c.Get(principalContextKey)
	if !ok {
		return models.SessionMarker{}, false
	}
	m, ok := val.(models.SessionMarker)
	return m, ok
}
