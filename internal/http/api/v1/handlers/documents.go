package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/organote/organote/internal/ai"
	"github.com/organote/organote/internal/authz"
	"github.com/organote/organote/internal/models"
	"github.com/organote/organote/internal/usage"
)

// DocumentHandler handles the token-metered document-processing endpoints.
type DocumentHandler struct {
	ai    *ai.Service
	usage *usage.Service
}

// NewDocumentHandler constructs a DocumentHandler.
func NewDocumentHandler(aiSvc *ai.Service, usageSvc *usage.Service) *DocumentHandler {
	return &DocumentHandler{ai: aiSvc, usage: usageSvc}
}

// classifyRequest is the request body for document classification.
type classifyRequest struct {
	Content       string   `json:"content" binding:"required"`
	FileName      string   `json:"fileName"`
	TemplateNames []string `json:"templateNames" binding:"required"`
}

// Classify classifies a document against the caller's template list.
func (h *DocumentHandler) Classify(c *gin.Context) {
	var body classifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errClassify := h.ai.Classify(c.Request.Context(), body.Content, body.FileName, body.TemplateNames)
	if errClassify != nil {
		h.failOperation(c, "classify", errClassify)
		return
	}

	settleTokens(c, h.usage, result.TokensUsed, "classify")
	c.JSON(http.StatusOK, gin.H{"documentType": result.Text})
}

// tagsRequest is the request body for tag suggestions.
type tagsRequest struct {
	Content  string   `json:"content" binding:"required"`
	FileName string   `json:"fileName"`
	Tags     []string `json:"tags"`
}

// Tags suggests tags for a document.
func (h *DocumentHandler) Tags(c *gin.Context) {
	var body tagsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errSuggest := h.ai.SuggestTags(c.Request.Context(), body.Content, body.FileName, body.Tags)
	if errSuggest != nil {
		h.failOperation(c, "tags", errSuggest)
		return
	}

	settleTokens(c, h.usage, result.TokensUsed, "tags")
	c.JSON(http.StatusOK, gin.H{"tags": result.Items})
}

// titleRequest is the request body for title suggestions.
type titleRequest struct {
	Content     string `json:"content" binding:"required"`
	CurrentName string `json:"currentName"`
}

// Title suggests a title for a document.
func (h *DocumentHandler) Title(c *gin.Context) {
	var body titleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errSuggest := h.ai.SuggestTitle(c.Request.Context(), body.Content, body.CurrentName)
	if errSuggest != nil {
		h.failOperation(c, "title", errSuggest)
		return
	}

	settleTokens(c, h.usage, result.TokensUsed, "title")
	c.JSON(http.StatusOK, gin.H{"title": result.Text})
}

// foldersRequest is the request body for folder suggestions.
type foldersRequest struct {
	Content  string   `json:"content" binding:"required"`
	FileName string   `json:"fileName"`
	Folders  []string `json:"folders" binding:"required"`
}

// Folders suggests destination folders for a document.
func (h *DocumentHandler) Folders(c *gin.Context) {
	var body foldersRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errSuggest := h.ai.SuggestFolders(c.Request.Context(), body.Content, body.FileName, body.Folders)
	if errSuggest != nil {
		h.failOperation(c, "folders", errSuggest)
		return
	}

	settleTokens(c, h.usage, result.TokensUsed, "folders")
	c.JSON(http.StatusOK, gin.H{"folders": result.Items})
}

// formatRequest is the request body for document formatting.
type formatRequest struct {
	Content     string `json:"content" binding:"required"`
	Instruction string `json:"instruction" binding:"required"`
}

// Format reformats a document per the caller's instruction.
func (h *DocumentHandler) Format(c *gin.Context) {
	var body formatRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, errFormat := h.ai.Format(c.Request.Context(), body.Content, body.Instruction)
	if errFormat != nil {
		h.failOperation(c, "format", errFormat)
		return
	}

	settleTokens(c, h.usage, result.TokensUsed, "format")
	c.JSON(http.StatusOK, gin.H{"content": result.Text})
}

// failOperation records a failed downstream call and responds 500.
func (h *DocumentHandler) failOperation(c *gin.Context, route string, err error) {
	userID := authz.UserID(c)
	log.WithError(err).WithFields(log.Fields{"user": userID, "route": route}).Error("document operation failed")
	h.usage.LogFailedEvent(userID, route, models.ResourceTokens, gin.H{"message": err.Error()})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process document"})
}
