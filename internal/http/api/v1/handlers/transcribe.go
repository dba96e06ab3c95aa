package handlers

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/organote/organote/internal/authz"
	"github.com/organote/organote/internal/models"
	"github.com/organote/organote/internal/transcribe"
	"github.com/organote/organote/internal/usage"
)

// TranscribeHandler handles the audio transcription endpoint. Unlike token
// routes, the cost estimate is known before the provider call, so the quota
// gate runs on the full estimate up front.
type TranscribeHandler struct {
	authorizer  *authz.Authorizer
	transcriber *transcribe.Service
	usage       *usage.Service
}

// NewTranscribeHandler constructs a TranscribeHandler.
func NewTranscribeHandler(authorizer *authz.Authorizer, transcriber *transcribe.Service, usageSvc *usage.Service) *TranscribeHandler {
	return &TranscribeHandler{authorizer: authorizer, transcriber: transcriber, usage: usageSvc}
}

// transcribeRequest is the JSON request body carrying base64 audio.
type transcribeRequest struct {
	Audio     string `json:"audio"`
	Extension string `json:"extension"`
}

// Transcribe accepts audio as multipart form data or a base64 JSON payload,
// gates on estimated minutes, and returns the transcript.
func (h *TranscribeHandler) Transcribe(c *gin.Context) {
	audio, extension, ok := h.readAudio(c)
	if !ok {
		return
	}

	if int64(len(audio)) > transcribe.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Audio file is too large. Please use a file smaller than 25MB. Consider compressing or splitting the audio file.",
		})
		return
	}

	userID := authz.UserID(c)
	minutes := transcribe.EstimateMinutes(int64(len(audio)), extension)

	switch h.authorizer.GateAudio(c.Request.Context(), userID, minutes) {
	case authz.Proceed:
	case authz.UsageCheckFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check audio transcription quota"})
		return
	default:
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "Audio transcription quota exceeded",
			"details": "Please upgrade your plan for more transcription minutes.",
		})
		return
	}

	text, errTranscribe := h.transcriber.Transcribe(c.Request.Context(), bytes.NewReader(audio), extension)
	if errTranscribe != nil {
		log.WithError(errTranscribe).WithField("user", userID).Error("transcription failed")
		h.usage.LogFailedEvent(userID, "transcribe", models.ResourceAudioMinutes, gin.H{"message": errTranscribe.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to process audio",
			"details": "Audio transcription failed. Please check file format and size.",
		})
		return
	}

	result := h.usage.IncrementAndLogAudioMinutes(c.Request.Context(), userID, minutes, "transcribe")
	if result.UsageError {
		log.WithFields(log.Fields{"user": userID, "minutes": minutes}).
			Warn("audio usage accumulation failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"text":   text,
		"length": len(text),
	})
}

// readAudio extracts the audio payload and format from either supported
// content type. On failure it writes the error response and returns !ok.
func (h *TranscribeHandler) readAudio(c *gin.Context) (audio []byte, extension string, ok bool) {
	contentType := c.GetHeader("Content-Type")

	if strings.Contains(contentType, "multipart/form-data") {
		file, header, errForm := c.Request.FormFile("audio")
		if errForm != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file provided"})
			return nil, "", false
		}
		defer func() { _ = file.Close() }()

		data, errRead := io.ReadAll(io.LimitReader(file, transcribe.MaxUploadBytes+1))
		if errRead != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read audio file"})
			return nil, "", false
		}
		extension = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
		if extension == "" {
			extension = "webm"
		}
		return data, extension, true
	}

	if strings.Contains(contentType, "application/json") {
		var body transcribeRequest
		if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Audio == "" || body.Extension == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing audio data"})
			return nil, "", false
		}
		encoded := body.Audio
		if idx := strings.Index(encoded, ";base64,"); idx >= 0 {
			encoded = encoded[idx+len(";base64,"):]
		}
		data, errDecode := base64.StdEncoding.DecodeString(encoded)
		if errDecode != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid base64 data"})
			return nil, "", false
		}
		return data, body.Extension, true
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported content type"})
	return nil, "", false
}
