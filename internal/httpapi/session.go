package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
)

// ClaimsContextKey is where the session middleware stores validated claims.
const ClaimsContextKey = "auth_claims"

// SessionUser is the authenticated caller of an API request.
type SessionUser struct {
	ID    ledger.UserID
	Roles []string
}

// HasRole reports whether the session carries role, ignoring case.
func (user SessionUser) HasRole(role string) bool {
	for _, candidate := range user.Roles {
		if strings.EqualFold(strings.TrimSpace(candidate), role) {
			return true
		}
	}
	return false
}

// CurrentUser extracts the session user placed on the context by the auth middleware.
func CurrentUser(ctx *gin.Context) (SessionUser, bool) {
	claimsValue, ok := ctx.Get(ClaimsContextKey)
	if !ok {
		return SessionUser{}, false
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	if claims == nil {
		return SessionUser{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		return SessionUser{}, false
	}
	return SessionUser{ID: userID, Roles: claims.GetUserRoles()}, true
}

// RespondUnauthorized writes the shared 401 body.
func RespondUnauthorized(ctx *gin.Context) {
	ctx.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse("Unauthorized", CodeUnauthorized))
}

// ErrorResponse builds the error body shared by every API route.
func ErrorResponse(message string, code string) gin.H {
	return gin.H{
		"error": message,
		"code":  code,
	}
}
