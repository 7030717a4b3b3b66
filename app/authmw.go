package app

import (
	"net/http"
	"strings"

	"github.com/denkoushi/tool-management-system02/tokenstore"

	"github.com/gin-gonic/gin"
)

const APITokenHeader = "X-API-Token"

// PresentedToken ヘッダ (X-API-Token / Authorization: Bearer) からトークンを取り出す
func PresentedToken(c *gin.Context) string {
	if t := c.GetHeader(APITokenHeader); t != "" {
		return t
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// TokenRequired 管理 API 用。ステーションのトークンと一致しなければ 401
func TokenRequired(tokens *tokenstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Validate(PresentedToken(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// IsLocalRequest シャットダウン API はローカルからなら無トークンで許可する
func IsLocalRequest(c *gin.Context) bool {
	ip := c.ClientIP()
	return ip == "127.0.0.1" || ip == "::1"
}
