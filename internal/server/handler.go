package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"teamchat/internal/auth"
	"teamchat/internal/config"
	"teamchat/internal/models"
	"teamchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Handler 聚合所有 HTTP handler。
type Handler struct {
	cfg config.Config
	db  *gorm.DB
	mgr *ws.Manager
}

func NewHandler(cfg config.Config, db *gorm.DB, mgr *ws.Manager) *Handler {
	return &Handler{cfg: cfg, db: db, mgr: mgr}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		OrgID    uint   `json:"org_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	if req.OrgID == 0 {
		req.OrgID = 1
	}
	var count int64
	if err := h.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("register count")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("register hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	user := models.User{Username: req.Username, PasswordHash: hash, OrgID: req.OrgID, Role: "member", IsActive: true}
	if err := h.db.Create(&user).Error; err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("register create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username, "org_id": user.OrgID})
}

// Login 校验凭证并签发 token 对。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	var user models.User
	if err := h.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login query user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if !user.IsActive || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	at, err := auth.GenerateAccessToken(&user, h.cfg.JWTSecret, h.cfg.AccessTokenTTLMinutes)
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("login generate access token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("login generate refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	exp := time.Now().Add(time.Duration(h.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(h.db, user.ID, rt, exp); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("login save refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  at,
		"refresh_token": rt,
		"user":          gin.H{"id": user.ID, "username": user.Username, "org_id": user.OrgID, "role": user.Role},
	})
}

// RefreshToken 旋转刷新 token 对。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	var (
		accessToken  string
		refreshToken string
	)
	err := h.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, req.RefreshToken)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, req.RefreshToken); err != nil {
			return err
		}
		var user models.User
		if err := tx.First(&user, rec.UserID).Error; err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(&user, h.cfg.JWTSecret, h.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(h.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, exp); err != nil {
			return err
		}
		accessToken = at
		refreshToken = newRT
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": accessToken, "refresh_token": refreshToken})
}

// CreateConversation 创建会话并登记参与者。
func (h *Handler) CreateConversation(c *gin.Context) {
	var req struct {
		Name           string `json:"name"`
		Type           string `json:"type"`
		ParticipantIDs []uint `json:"participant_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Type != "direct" && req.Type != "group" {
		req.Type = "group"
	}
	userV, _ := c.Get("user")
	user := userV.(models.User)

	conv := models.Conversation{Name: strings.TrimSpace(req.Name), Type: req.Type, OrgID: user.OrgID, CreatorID: user.ID, LastActivityAt: time.Now()}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		seen := map[uint]struct{}{user.ID: {}}
		parts := []models.ConversationParticipant{{ConversationID: conv.ID, UserID: user.ID, IsActive: true, JoinedAt: time.Now()}}
		for _, id := range req.ParticipantIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			parts = append(parts, models.ConversationParticipant{ConversationID: conv.ID, UserID: id, IsActive: true, JoinedAt: time.Now()})
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		log.Error().Err(err).Uint("creator_id", user.ID).Msg("create conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": conv.ID, "name": conv.Name, "type": conv.Type})
}

// ListConversations 返回当前用户参与的会话，附带房间在线人数。
func (h *Handler) ListConversations(c *gin.Context) {
	userID := auth.GetUserID(c)
	var ids []uint
	if err := h.db.Model(&models.ConversationParticipant{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Pluck("conversation_id", &ids).Error; err != nil {
		log.Error().Err(err).Uint("user_id", userID).Msg("list conversation ids")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	var convs []models.Conversation
	if len(ids) > 0 {
		if err := h.db.Where("id IN ?", ids).Order("last_activity_at desc").Find(&convs).Error; err != nil {
			log.Error().Err(err).Uint("user_id", userID).Msg("list conversations")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}
	}
	type convDTO struct {
		ID             uint      `json:"id"`
		Name           string    `json:"name"`
		Type           string    `json:"type"`
		LastActivityAt time.Time `json:"last_activity_at"`
		Online         int       `json:"online"`
	}
	out := make([]convDTO, 0, len(convs))
	for _, cv := range convs {
		out = append(out, convDTO{ID: cv.ID, Name: cv.Name, Type: cv.Type, LastActivityAt: cv.LastActivityAt, Online: h.mgr.Router.Online(ws.ConversationRoom(cv.ID))})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// ListMessages 分页查询会话历史消息，按 id 升序返回。
func (h *Handler) ListMessages(c *gin.Context) {
	convID, err := strconv.Atoi(c.Param("id"))
	if err != nil || convID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	userID := auth.GetUserID(c)
	var part models.ConversationParticipant
	if err := h.db.Where("conversation_id = ? AND user_id = ? AND is_active = ?", convID, userID, true).First(&part).Error; err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := h.db.Where("conversation_id = ?", convID)
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			q = q.Where("id < ?", v)
		}
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		log.Error().Err(err).Int("conversation_id", convID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetPoll 查询单个投票的当前视图，仅投票所属会话的参与者可见。
func (h *Handler) GetPoll(c *gin.Context) {
	pollID, err := strconv.Atoi(c.Param("id"))
	if err != nil || pollID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id"})
		return
	}
	info, perr := h.mgr.Polls.Get(uint(pollID))
	if perr != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
		return
	}
	userID := auth.GetUserID(c)
	var part models.ConversationParticipant
	if err := h.db.Where("conversation_id = ? AND user_id = ? AND is_active = ?", info.ConversationID, userID, true).First(&part).Error; err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"poll": info})
}

// GetPresence 查询某用户的在线状态。
func (h *Handler) GetPresence(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, h.mgr.Presence.GetStatus(uint(userID)))
}
