package core

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, manager *SessionManager, authService *AuthService, userRepo UserRepository) *gin.Engine {
	r := gin.Default()

	r.Use(SessionMiddleware(manager))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", func(c *gin.Context) {
			var req struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}

			sess, err := manager.Current(c)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
				return
			}

			result, err := authService.Login(c.Request.Context(), sess, req.Username, req.Password, c.ClientIP())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "login failed")
				return
			}
			if !result.Success {
				status, code := loginRejectionStatus(result.Err)
				respondError(c, status, code, result.Error)
				return
			}

			c.JSON(http.StatusOK, gin.H{"user": gin.H{
				"id":       result.User.ID,
				"username": result.User.Username,
				"role":     result.User.Role,
			}})
		})

		api.POST("/auth/logout", func(c *gin.Context) {
			sess, err := manager.Current(c)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
				return
			}
			// Idempotent: logging out an anonymous session also succeeds.
			if err := authService.Logout(sess); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to clear session")
				return
			}
			c.Status(http.StatusNoContent)
		})

		api.POST("/auth/password-check", func(c *gin.Context) {
			var req struct {
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			if err := authService.ValidatePassword(req.Password); err != nil {
				c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"valid": true})
		})

		api.GET("/users/me", RequireLogin(), func(c *gin.Context) {
			sess, _ := currentSession(c)
			user, _ := sess.CurrentUser()
			c.JSON(http.StatusOK, gin.H{
				"id":       user.ID,
				"username": user.Username,
				"role":     user.Role,
			})
		})

		api.GET("/dashboard", RequireLogin(), func(c *gin.Context) {
			total, err := userRepo.CountUsers(c.Request.Context())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to count users")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"total_users":  total,
				"server_time":  time.Now().Format("15:04:05"),
				"login_status": "Active",
			})
		})

		admin := api.Group("/admin", RequireLogin(), AdminOnly())
		{
			admin.POST("/users", func(c *gin.Context) {
				var req struct {
					Username string `json:"username"`
					Password string `json:"password"`
					Role     string `json:"role"`
				}
				if err := c.ShouldBindJSON(&req); err != nil {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
					return
				}

				id, err := authService.CreateUser(c.Request.Context(), req.Username, req.Password, req.Role)
				if err != nil {
					switch {
					case errors.Is(err, ErrInvalidInput):
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Username and password are required")
					case errors.Is(err, ErrRoleInvalid):
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid role. Must be admin or user")
					case errors.Is(err, ErrUsernameTaken):
						respondError(c, http.StatusConflict, "CONFLICT", "Username already exists")
					default:
						respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Failed to create user")
					}
					return
				}
				c.JSON(http.StatusCreated, gin.H{"user_id": id})
			})

			admin.GET("/users", func(c *gin.Context) {
				page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
				if err != nil {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
					return
				}
				items, total, err := userRepo.List(c.Request.Context(), page, perPage)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to fetch users")
					return
				}
				c.JSON(http.StatusOK, gin.H{
					"items":       items,
					"page":        page,
					"per_page":    perPage,
					"total_items": total,
					"total_pages": calcTotalPages(total, perPage),
				})
			})
		}
	}

	return r
}

// loginRejectionStatus maps a login rejection kind to HTTP status and code.
func loginRejectionStatus(err error) (int, string) {
	var rl *RateLimitedError
	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, ErrUnknownUser):
		return http.StatusUnauthorized, "INVALID_USERNAME"
	case errors.Is(err, ErrInvalidPassword):
		return http.StatusUnauthorized, "INVALID_PASSWORD"
	default:
		return http.StatusUnauthorized, "UNAUTHORIZED"
	}
}
