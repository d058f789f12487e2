package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/uploads"
)

// multipartOverhead leaves room for form boundaries and headers on top of the
// file size limit.
const multipartOverhead = 1 << 20

type UploadHandler struct {
	store    *uploads.Store
	maxBytes int64
	logger   logrus.FieldLogger
}

func NewUploadHandler(store *uploads.Store, maxBytes int64, logger logrus.FieldLogger) *UploadHandler {
	return &UploadHandler{store: store, maxBytes: maxBytes, logger: logger}
}

func (h *UploadHandler) Upload(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer f.Close()

	ref, err := h.store.Save(header.Filename, f)
	switch {
	case err == nil:
	case errors.Is(err, uploads.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDFs allowed"})
		return
	case errors.Is(err, uploads.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	default:
		h.logger.WithError(err).Error("store upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	h.logger.WithFields(logrus.Fields{"file_id": ref, "size": header.Size}).Info("file uploaded")
	c.JSON(http.StatusOK, gin.H{"fileId": ref})
}

// Serve streams an uploaded file to a printer.
func (h *UploadHandler) Serve(c *gin.Context) {
	ref := c.Param("fileId")
	path, err := h.store.Path(ref)
	if err != nil || !h.store.Exists(ref) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.File(path)
}
