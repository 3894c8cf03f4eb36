package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 返回 WebSocket 接入端点。认证在升级之前完成，
// 无效 token 在任何房间状态产生之前就被拒绝。
func Serve(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Token 走 Authorization 头或 query 参数（浏览器 WS 不便带头）。
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		user, werr := m.Authenticate(token)
		if werr != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": werr.Message, "code": werr.Code})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		s, werr := m.Register(user, conn)
		if werr != nil {
			_ = conn.WriteJSON(Outbound{Event: EvError, Data: werr})
			_ = conn.Close()
			return
		}

		go s.writePump(m.cfg.HeartbeatInterval)
		s.readPump(m.cfg.IdleTimeout, m.HandleEvent)
		m.Disconnect(s)
	}
}
