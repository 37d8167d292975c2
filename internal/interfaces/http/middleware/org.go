package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
)

const (
	OrgIDKey     = "org_id"
	UserIDKey    = "user_id"
	OrgIDHeader  = "X-Org-ID"
	UserIDHeader = "X-User-ID"
)

// OrgContextConfig controls where the organization comes from
type OrgContextConfig struct {
	// AllowHeader accepts X-Org-ID and X-User-ID when no token is present.
	// Development only.
	AllowHeader bool
}

// OrgContext resolves the caller's organization, from the JWT claims first
// and the X-Org-ID header second, and rejects requests that have none.
// Must run after JWTAuth.
func OrgContext(cfg OrgContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var orgRaw, userRaw string
		if claims := GetJWTClaims(c); claims != nil {
			orgRaw, userRaw = claims.OrgID, claims.UserID
		} else if cfg.AllowHeader {
			orgRaw, userRaw = c.GetHeader(OrgIDHeader), c.GetHeader(UserIDHeader)
		}

		if orgRaw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Organization is required", GetRequestID(c)))
			return
		}
		orgID, err := uuid.Parse(orgRaw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeBadRequest, "Organization id must be a UUID", GetRequestID(c)))
			return
		}
		c.Set(OrgIDKey, orgID)

		ctx := logger.WithOrgID(c.Request.Context(), orgID.String())
		if userID, err := uuid.Parse(userRaw); err == nil {
			c.Set(UserIDKey, userID)
			ctx = logger.WithUserID(ctx, userID.String())
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetOrgID returns the organization set by OrgContext
func GetOrgID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(OrgIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetUserID returns the acting user, or nil for anonymous development calls
func GetUserID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
