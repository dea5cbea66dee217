package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxPageSize = 200

// paginate applies page, pageSize and search query parameters
func paginate(c *gin.Context, searchColumn string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		page, _ := strconv.Atoi(c.Query("page"))
		size, _ := strconv.Atoi(c.Query("pageSize"))
		if page < 1 {
			page = 1
		}
		if size < 1 || size > maxPageSize {
			size = maxPageSize
		}
		if search := strings.TrimSpace(c.Query("search")); search != "" && searchColumn != "" {
			db = db.Where("LOWER("+searchColumn+") LIKE ?", "%"+strings.ToLower(search)+"%")
		}
		return db.Order("created_at").Offset((page - 1) * size).Limit(size)
	}
}

// storeError maps database failures onto API errors
func (s *Server) storeError(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondWithError(c, http.StatusNotFound, apierror.CodeResourceNotFound, what+" not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		respondWithError(c, http.StatusConflict, apierror.CodeDuplicateResource, what+" already exists")
	default:
		s.internalError(c, err)
	}
}

func (s *Server) internalError(c *gin.Context, err error) {
	logger := log.WithRequestID(requestID(c))
	logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	respondWithError(c, http.StatusInternalServerError, apierror.CodeInternalError, "internal server error")
}

// Applications

type applicationRequest struct {
	Name        string `json:"name" binding:"required,max=128"`
	Description string `json:"description" binding:"max=1024"`
	Enabled     *bool  `json:"enabled"`
}

// listApplications godoc
// @Summary  List applications
// @Tags     applications
// @Produce  json
// @Param    page      query  int     false  "Page"
// @Param    pageSize  query  int     false  "Page size"
// @Param    search    query  string  false  "Name filter"
// @Success  200  {array}  types.Application
// @Router   /applications [get]
func (s *Server) listApplications(c *gin.Context) {
	var rows []applicationModel
	if err := s.db.WithContext(c.Request.Context()).Scopes(paginate(c, "name")).Find(&rows).Error; err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]types.Application, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toType())
	}
	respondWithSuccess(c, http.StatusOK, out)
}

func (s *Server) getApplication(c *gin.Context) {
	var row applicationModel
	if err := s.db.WithContext(c.Request.Context()).First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "application")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

// createApplication godoc
// @Summary  Register an application
// @Tags     applications
// @Accept   json
// @Produce  json
// @Param    application  body  applicationRequest  true  "Application"
// @Success  201  {object}  types.Application
// @Failure  409  {object}  apierror.Error
// @Router   /applications [post]
func (s *Server) createApplication(c *gin.Context) {
	var req applicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	row := applicationModel{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     currentUser(c).ID,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		s.storeError(c, err, "application")
		return
	}
	respondWithSuccess(c, http.StatusCreated, row.toType())
}

func (s *Server) updateApplication(c *gin.Context) {
	var req applicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	db := s.db.WithContext(c.Request.Context())
	var row applicationModel
	if err := db.First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "application")
		return
	}
	row.Name = req.Name
	row.Description = req.Description
	if req.Enabled != nil {
		row.Enabled = *req.Enabled
	}
	if err := db.Save(&row).Error; err != nil {
		s.storeError(c, err, "application")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

func (s *Server) deleteApplication(c *gin.Context) {
	s.deleteByID(c, &applicationModel{}, "application")
}

// deleteByID removes one row, 404 when nothing matched
func (s *Server) deleteByID(c *gin.Context, model any, what string) {
	res := s.db.WithContext(c.Request.Context()).Delete(model, "id = ?", c.Param("id"))
	if res.Error != nil {
		s.storeError(c, res.Error, what)
		return
	}
	if res.RowsAffected == 0 {
		respondWithError(c, http.StatusNotFound, apierror.CodeResourceNotFound, what+" not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// Connections

type connectionRequest struct {
	ApplicationID string `json:"applicationId"`
	Name          string `json:"name" binding:"required,max=128"`
	Provider      string `json:"provider" binding:"required,oneof=postgres mysql sqlserver sqlite"`
	Host          string `json:"host"`
	Port          int    `json:"port" binding:"gte=0,lte=65535"`
	Database      string `json:"database" binding:"required"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

func (r *connectionRequest) apply(row *connectionModel) {
	row.ApplicationID = r.ApplicationID
	row.Name = r.Name
	row.Provider = r.Provider
	row.Host = r.Host
	row.Port = r.Port
	row.Database = r.Database
	row.Username = r.Username
	// An empty password on update keeps the stored secret
	if r.Password != "" {
		row.Password = r.Password
	}
}

func (s *Server) listConnections(c *gin.Context) {
	var rows []connectionModel
	if err := s.db.WithContext(c.Request.Context()).Scopes(paginate(c, "name")).Find(&rows).Error; err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]types.DatabaseConnection, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toType())
	}
	respondWithSuccess(c, http.StatusOK, out)
}

func (s *Server) getConnection(c *gin.Context) {
	var row connectionModel
	if err := s.db.WithContext(c.Request.Context()).First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "connection")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

func (s *Server) createConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	row := connectionModel{ID: uuid.New().String()}
	req.apply(&row)
	if err := s.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		s.storeError(c, err, "connection")
		return
	}
	respondWithSuccess(c, http.StatusCreated, row.toType())
}

func (s *Server) updateConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	db := s.db.WithContext(c.Request.Context())
	var row connectionModel
	if err := db.First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "connection")
		return
	}
	req.apply(&row)
	if err := db.Save(&row).Error; err != nil {
		s.storeError(c, err, "connection")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

func (s *Server) deleteConnection(c *gin.Context) {
	s.deleteByID(c, &connectionModel{}, "connection")
}

// testConnection godoc
// @Summary  Check that a connection is reachable
// @Tags     connections
// @Produce  json
// @Param    id   path  string  true  "Connection ID"
// @Success  200  {object}  types.ConnectionTestResult
// @Router   /connections/{id}/test [post]
func (s *Server) testConnection(c *gin.Context) {
	var row connectionModel
	if err := s.db.WithContext(c.Request.Context()).First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "connection")
		return
	}
	respondWithSuccess(c, http.StatusOK, probeConnection(c.Request.Context(), &row))
}

// Users

type userRequest struct {
	Username string   `json:"username" binding:"required,max=64"`
	Email    string   `json:"email" binding:"omitempty,email"`
	FullName string   `json:"fullName" binding:"max=256"`
	Roles    []string `json:"roles"`
	Active   *bool    `json:"active"`
	Password string   `json:"password" binding:"omitempty,min=8"`
}

func (s *Server) listUsers(c *gin.Context) {
	var rows []userModel
	if err := s.db.WithContext(c.Request.Context()).Scopes(paginate(c, "username")).Find(&rows).Error; err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]types.User, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toType())
	}
	respondWithSuccess(c, http.StatusOK, out)
}

func (s *Server) getUser(c *gin.Context) {
	var row userModel
	if err := s.db.WithContext(c.Request.Context()).First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "user")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

func (s *Server) createUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	if req.Password == "" {
		respondWithAPIError(c, http.StatusBadRequest, apierror.New(apierror.CodeValidationFailed, "password is required").
			WithDetails(map[string][]string{"password": {"The password field is required."}}))
		return
	}
	if !s.rolesExist(c, req.Roles) {
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		s.internalError(c, err)
		return
	}
	row := userModel{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Roles:        req.Roles,
		Active:       req.Active == nil || *req.Active,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		s.storeError(c, err, "user")
		return
	}
	respondWithSuccess(c, http.StatusCreated, row.toType())
}

func (s *Server) updateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	if !s.rolesExist(c, req.Roles) {
		return
	}
	db := s.db.WithContext(c.Request.Context())
	var row userModel
	if err := db.First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "user")
		return
	}
	row.Username = req.Username
	row.Email = req.Email
	row.FullName = req.FullName
	row.Roles = req.Roles
	if req.Active != nil {
		row.Active = *req.Active
	}
	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			s.internalError(c, err)
			return
		}
		row.PasswordHash = hash
	}
	if err := db.Save(&row).Error; err != nil {
		s.storeError(c, err, "user")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

func (s *Server) deleteUser(c *gin.Context) {
	if c.Param("id") == currentUser(c).ID {
		respondWithError(c, http.StatusForbidden, apierror.CodeOperationNotAllowed, "cannot delete the signed-in user")
		return
	}
	s.deleteByID(c, &userModel{}, "user")
}

// rolesExist answers 400 naming the unknown roles
func (s *Server) rolesExist(c *gin.Context, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	var found []string
	if err := s.db.WithContext(c.Request.Context()).Model(&roleModel{}).Where("name IN ?", roles).Pluck("name", &found).Error; err != nil {
		s.internalError(c, err)
		return false
	}
	known := make(map[string]bool, len(found))
	for _, name := range found {
		known[name] = true
	}
	var unknown []string
	for _, name := range roles {
		if !known[name] {
			unknown = append(unknown, "Unknown role "+name+".")
		}
	}
	if len(unknown) > 0 {
		respondWithAPIError(c, http.StatusBadRequest, apierror.New(apierror.CodeValidationFailed, "unknown roles").
			WithDetails(map[string][]string{"roles": unknown}))
		return false
	}
	return true
}

// Roles

type roleRequest struct {
	Name        string   `json:"name" binding:"required,max=64"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (s *Server) listRoles(c *gin.Context) {
	var rows []roleModel
	if err := s.db.WithContext(c.Request.Context()).Scopes(paginate(c, "name")).Find(&rows).Error; err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]types.Role, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toType())
	}
	respondWithSuccess(c, http.StatusOK, out)
}

func (s *Server) getRole(c *gin.Context) {
	var row roleModel
	if err := s.db.WithContext(c.Request.Context()).First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "role")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

func (s *Server) createRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	row := roleModel{ID: uuid.New().String(), Name: req.Name, Description: req.Description, Permissions: req.Permissions}
	if err := s.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		s.storeError(c, err, "role")
		return
	}
	respondWithSuccess(c, http.StatusCreated, row.toType())
}

func (s *Server) updateRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	db := s.db.WithContext(c.Request.Context())
	var row roleModel
	if err := db.First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "role")
		return
	}
	row.Name = req.Name
	row.Description = req.Description
	row.Permissions = req.Permissions
	if err := db.Save(&row).Error; err != nil {
		s.storeError(c, err, "role")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

func (s *Server) deleteRole(c *gin.Context) {
	s.deleteByID(c, &roleModel{}, "role")
}
