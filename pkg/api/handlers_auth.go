package api

import (
	"net/http"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login godoc
// @Summary      Log in
// @Description  Exchanges credentials for a session token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        credentials  body      loginRequest  true  "Credentials"
// @Success      200          {object}  types.LoginResponse
// @Failure      401          {object}  apierror.Error
// @Router       /auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}

	var user userModel
	err := s.db.WithContext(c.Request.Context()).Where("username = ?", req.Username).First(&user).Error
	if err != nil || !user.Active || !checkPassword(user.PasswordHash, req.Password) {
		respondWithError(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid username or password")
		return
	}

	session := sessionModel{
		Token:     uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&session).Error; err != nil {
		s.internalError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookie, session.Token, int(s.cfg.SessionTTL.Seconds()), "/", "", false, true)
	respondWithSuccess(c, http.StatusOK, types.LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      user.toType(),
	})
}

// logout godoc
// @Summary  Log out
// @Tags     auth
// @Success  200
// @Router   /auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	token := c.GetString(ctxToken)
	if err := s.db.WithContext(c.Request.Context()).Delete(&sessionModel{}, "token = ?", token).Error; err != nil {
		s.internalError(c, err)
		return
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	respondWithSuccess(c, http.StatusOK, nil)
}

func (s *Server) validate(c *gin.Context) {
	var session sessionModel
	if err := s.db.WithContext(c.Request.Context()).First(&session, "token = ?", c.GetString(ctxToken)).Error; err != nil {
		s.internalError(c, err)
		return
	}
	respondWithSuccess(c, http.StatusOK, types.SessionInfo{Valid: true, ExpiresAt: session.ExpiresAt})
}

func (s *Server) me(c *gin.Context) {
	respondWithSuccess(c, http.StatusOK, currentUser(c).toType())
}
