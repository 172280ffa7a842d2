package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docqa/internal/app"
	"docqa/internal/model"
	"docqa/internal/rag"
	"docqa/internal/transport/http/middleware"
	"docqa/internal/transport/http/response"
)

type DocumentService interface {
	Upload(ctx context.Context, input app.UploadInput) (*model.Document, error)
	Status(ctx context.Context, file string, userID uint) (*model.Document, error)
}

type QAService interface {
	Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error)
	History(ctx context.Context, roomID string, userID uint) ([]rag.Turn, error)
}

type FileHandler struct {
	documents      DocumentService
	qa             QAService
	maxUploadBytes int64
}

type AskRequest struct {
	File     string `json:"file"`
	RoomID   string `json:"roomId"`
	Question string `json:"question" binding:"required"`
}

func NewFileHandler(documents DocumentService, qa QAService, maxUploadBytes int64) *FileHandler {
	return &FileHandler{documents: documents, qa: qa, maxUploadBytes: maxUploadBytes}
}

// Upload accepts a multipart form with "file" and the comma separated
// fields "room_ids", "roles_allowed" and "users_allowed".
func (h *FileHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		response.Message(c, http.StatusBadRequest, "file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		response.Message(c, http.StatusBadRequest, "file is unreadable")
		return
	}
	content, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		response.Message(c, http.StatusBadRequest, "file is unreadable")
		return
	}

	doc, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		Filename:     header.Filename,
		Content:      content,
		RoomIDs:      app.SplitList(c.PostForm("room_ids")),
		RolesAllowed: app.SplitList(c.PostForm("roles_allowed")),
		UsersAllowed: app.SplitList(c.PostForm("users_allowed")),
		UploadedBy:   userID,
	})
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Uint("user_id", userID).Msg("upload failed")
		if errors.Is(err, app.ErrInvalidInput) {
			response.Message(c, http.StatusBadRequest, response.MessageInvalidRequest)
			return
		}
		response.Message(c, http.StatusInternalServerError, response.MessageSaveFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": response.MessageUploaded,
		"id":      doc.ID,
		"file":    doc.File,
		"status":  doc.Status,
	})
}

// Ask answers a question about one file ({file, question}) or one room
// ({roomId, question}).
func (h *FileHandler) Ask(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
		return
	}
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Message(c, http.StatusBadRequest, response.MessageInvalidRequest)
		return
	}

	result, err := h.qa.Ask(c.Request.Context(), app.AskInput{
		UserID:   userID,
		File:     req.File,
		RoomID:   req.RoomID,
		Question: req.Question,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnauthorized):
			response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
		case errors.Is(err, app.ErrInvalidInput):
			response.Message(c, http.StatusBadRequest, response.MessageInvalidRequest)
		default:
			log.Error().Err(err).Str("file", req.File).Str("room_id", req.RoomID).Msg("ask failed")
			response.Message(c, http.StatusInternalServerError, response.MessageInternalError)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": result})
}

func (h *FileHandler) Status(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
		return
	}
	doc, err := h.documents.Status(c.Request.Context(), c.Param("file"), userID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnauthorized):
			response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
		case errors.Is(err, app.ErrInvalidInput):
			response.Message(c, http.StatusBadRequest, response.MessageInvalidRequest)
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Message(c, http.StatusNotFound, response.MessageNotFound)
		default:
			log.Error().Err(err).Str("file", c.Param("file")).Msg("status lookup failed")
			response.Message(c, http.StatusInternalServerError, response.MessageInternalError)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file":        doc.File,
		"status":      doc.Status,
		"chunk_count": doc.ChunkCount,
	})
}

func (h *FileHandler) RoomHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
		return
	}
	turns, err := h.qa.History(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnauthorized):
			response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
		case errors.Is(err, app.ErrInvalidInput):
			response.Message(c, http.StatusBadRequest, response.MessageInvalidRequest)
		default:
			log.Error().Err(err).Str("room_id", c.Param("id")).Msg("history lookup failed")
			response.Message(c, http.StatusInternalServerError, response.MessageInternalError)
		}
		return
	}
	if turns == nil {
		turns = []rag.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}
