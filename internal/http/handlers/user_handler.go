// README: Admin user directory endpoints.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dukani/internal/modules/delivery"
	"dukani/internal/types"
)

type UserHandler struct {
	dir *delivery.Directory
}

func NewUserHandler(dir *delivery.Directory) *UserHandler {
	return &UserHandler{dir: dir}
}

// List serves GET /api/users?role=delivery&isActive=true.
func (h *UserHandler) List(c *gin.Context) {
	role := types.Role(c.DefaultQuery("role", string(types.RoleDelivery)))
	active, _ := strconv.ParseBool(c.Query("isActive"))
	users, err := h.dir.ListUsers(c.Request.Context(), role, active)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if users == nil {
		users = []delivery.User{}
	}
	writeJSON(c, http.StatusOK, gin.H{"users": users})
}

func (h *UserHandler) Save(c *gin.Context) {
	var u delivery.User
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !isValidID(string(u.ID)) {
		badRequest(c, "invalid user id")
		return
	}
	if err := h.dir.SaveUser(c.Request.Context(), u); err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}
