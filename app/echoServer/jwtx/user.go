// app/echoServer/jwtx/user.go
package jwtx

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/Danylo-D87/library-service/model"
)

// UserID reads the authenticated user id placed in context by the auth
// middleware.
func UserID(c echo.Context) (int64, error) {
	id, ok := c.Get("user_id").(int64)
	if !ok || id <= 0 {
		return 0, errors.New("no authenticated user in context")
	}
	return id, nil
}

// IsStaff reports whether the authenticated user carries the staff role.
func IsStaff(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == model.RoleStaff
}
