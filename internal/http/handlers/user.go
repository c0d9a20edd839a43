package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/http/response"
	"github.com/yungbote/repairjourney-backend/internal/services"
)

type UserHandler struct {
	users services.UserStore
}

func NewUserHandler(users services.UserStore) *UserHandler {
	return &UserHandler{users: users}
}

// GET /api/users/:id
func (uh *UserHandler) Get(c *gin.Context) {
	u, err := uh.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondFromError(c, err, "get_user_failed")
		return
	}
	if u == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", services.ErrUserNotFound)
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}

// PUT /api/users/:id
// body: { "email": "...", "displayName": "..." }
func (uh *UserHandler) Put(c *gin.Context) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("invalid user id %q", c.Param("id")))
		return
	}
	var req struct {
		Email       string `json:"email" binding:"required"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	u := &types.User{ID: id, Email: strings.ToLower(strings.TrimSpace(req.Email)), DisplayName: req.DisplayName}
	if err := uh.users.Put(c.Request.Context(), u); err != nil {
		response.RespondFromError(c, err, "put_user_failed")
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}
