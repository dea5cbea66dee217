package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type startMigrationRequest struct {
	SourceConnectionID string   `json:"sourceConnectionId" binding:"required"`
	TargetConnectionID string   `json:"targetConnectionId" binding:"required"`
	Tables             []string `json:"tables"`
}

// startMigration godoc
// @Summary      Start a migration
// @Description  Starts copying data between two connections. Progress is pushed to the job's group on the migration hub.
// @Tags         migrations
// @Accept       json
// @Produce      json
// @Param        request  body      startMigrationRequest  true  "Migration"
// @Success      201      {object}  types.MigrationJob
// @Failure      400      {object}  apierror.Error
// @Router       /migrations [post]
func (s *Server) startMigration(c *gin.Context) {
	var req startMigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithBindError(c, err)
		return
	}
	if req.SourceConnectionID == req.TargetConnectionID {
		respondWithAPIError(c, http.StatusBadRequest, apierror.New(apierror.CodeValidationFailed, "source and target must differ").
			WithDetails(map[string][]string{"targetConnectionId": {"The target connection must differ from the source."}}))
		return
	}

	db := s.db.WithContext(c.Request.Context())
	for field, id := range map[string]string{
		"sourceConnectionId": req.SourceConnectionID,
		"targetConnectionId": req.TargetConnectionID,
	} {
		var conn connectionModel
		err := db.Select("id").First(&conn, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondWithAPIError(c, http.StatusBadRequest, apierror.New(apierror.CodeValidationFailed, "unknown connection").
				WithDetails(map[string][]string{field: {"Connection " + id + " does not exist."}}))
			return
		}
		if err != nil {
			s.internalError(c, err)
			return
		}
	}

	now := time.Now()
	row := migrationModel{
		ID:                 uuid.New().String(),
		GroupID:            uuid.New().String(),
		SourceConnectionID: req.SourceConnectionID,
		TargetConnectionID: req.TargetConnectionID,
		Tables:             req.Tables,
		Status:             string(types.JobStatusPending),
		TotalCount:         totalRows(req.Tables),
		StartedAt:          now,
		UpdatedAt:          now,
	}
	if err := db.Create(&row).Error; err != nil {
		s.storeError(c, err, "migration")
		return
	}

	s.runner.start(row)
	respondWithSuccess(c, http.StatusCreated, row.toType())
}

func (s *Server) listMigrations(c *gin.Context) {
	db := s.db.WithContext(c.Request.Context()).Scopes(paginate(c, "group_id"))
	if status := c.Query("status"); status != "" {
		db = db.Where("status = ?", status)
	}
	var rows []migrationModel
	if err := db.Find(&rows).Error; err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]types.MigrationJob, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toType())
	}
	respondWithSuccess(c, http.StatusOK, out)
}

func (s *Server) getMigration(c *gin.Context) {
	var row migrationModel
	if err := s.db.WithContext(c.Request.Context()).First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "migration")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}

// cancelMigration godoc
// @Summary  Cancel a running migration
// @Tags     migrations
// @Produce  json
// @Param    id   path      string  true  "Migration ID"
// @Success  200  {object}  types.MigrationJob
// @Failure  409  {object}  apierror.Error
// @Router   /migrations/{id}/cancel [post]
func (s *Server) cancelMigration(c *gin.Context) {
	db := s.db.WithContext(c.Request.Context())
	var row migrationModel
	if err := db.First(&row, "id = ?", c.Param("id")).Error; err != nil {
		s.storeError(c, err, "migration")
		return
	}
	if types.JobStatus(row.Status).Terminal() || !s.runner.cancel(row.ID) {
		respondWithError(c, http.StatusConflict, apierror.CodeOperationNotAllowed, "migration is not running")
		return
	}
	if err := db.First(&row, "id = ?", row.ID).Error; err != nil {
		s.storeError(c, err, "migration")
		return
	}
	respondWithSuccess(c, http.StatusOK, row.toType())
}
