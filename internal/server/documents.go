package server

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
	"github.com/joseph-ayodele/nfe-ocr/internal/pipeline"
	"github.com/joseph-ayodele/nfe-ocr/internal/storage"
	"github.com/joseph-ayodele/nfe-ocr/internal/tables"
)

type fileInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	FileSize    int    `json:"file_size"`
}

type upload struct {
	fileInfo
	data []byte
}

func (u upload) document() pipeline.Document {
	return pipeline.Document{Filename: u.Filename, Data: u.data, MIMEType: u.ContentType}
}

type processResponse struct {
	Success        bool                  `json:"success"`
	RequestID      string                `json:"request_id"`
	ProcessingTime float64               `json:"processing_time_seconds"`
	FileInfo       fileInfo              `json:"file_info"`
	OCR            entity.DocumentResult `json:"ocr_result"`
	Tables         *tables.Outcome       `json:"sheets_result,omitempty"`
	Storage        *storage.Outcome      `json:"storage_result,omitempty"`
}

// readUpload reads the multipart "file" field and enforces type and size limits.
// It writes the error response itself and reports false on failure.
func (s *Server) readUpload(c *gin.Context, allowed func(mimeType string) bool) (upload, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, http.StatusBadRequest, "multipart field \"file\" is required")
		return upload{}, false
	}

	ct := ""
	if mt, _, err := mime.ParseMediaType(fh.Header.Get("Content-Type")); err == nil {
		ct = strings.ToLower(mt)
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = constants.MIMETypeForExt(filepath.Ext(fh.Filename))
	}
	if !allowed(ct) {
		s.fail(c, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q; use PDF, JPG, PNG or WEBP", ct))
		return upload{}, false
	}

	tooLarge := fmt.Sprintf("file too large; maximum is %.1f MB", float64(s.opts.MaxFileSize)/(1<<20))
	if fh.Size > s.opts.MaxFileSize {
		s.fail(c, http.StatusRequestEntityTooLarge, tooLarge)
		return upload{}, false
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, "cannot read uploaded file")
		return upload{}, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxFileSize+1))
	if err != nil {
		s.fail(c, http.StatusBadRequest, "cannot read uploaded file")
		return upload{}, false
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		s.fail(c, http.StatusRequestEntityTooLarge, tooLarge)
		return upload{}, false
	}
	if len(data) == 0 {
		s.fail(c, http.StatusBadRequest, "uploaded file is empty")
		return upload{}, false
	}

	name := common.SafeFilename(fh.Filename)
	return upload{fileInfo: fileInfo{Filename: name, ContentType: ct, FileSize: len(data)}, data: data}, true
}

func anyDocument(mt string) bool {
	_, ok := constants.AllowedMIMETypes[mt]
	return ok
}

func (s *Server) requestCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
}

func seconds(d time.Duration) float64 {
	return round2(d.Seconds())
}

// process runs extraction, then writes the tables and the source file concurrently
// and waits for both before answering. Tables are written only for a successful extraction.
func (s *Server) process(c *gin.Context) {
	start := time.Now()
	up, ok := s.readUpload(c, anyDocument)
	if !ok {
		return
	}
	saveFile := true
	if v := c.PostForm("save_file"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(c, http.StatusBadRequest, "save_file must be a boolean")
			return
		}
		saveFile = b
	}

	ctx, cancel := s.requestCtx(c)
	defer cancel()
	rid := common.RequestIDFromContext(ctx)
	log := common.LoggerFromContext(ctx, s.logger).With("filename", up.Filename)
	log.Info("http.process.start", "bytes", up.FileSize, "content_type", up.ContentType)

	res, err := s.deps.Processor.Process(ctx, up.document())
	if err != nil {
		log.Warn("http.process.extract_failed", "error", err)
	}
	resp := processResponse{Success: res.Success, RequestID: rid, FileInfo: up.fileInfo, OCR: res}

	var blob chan storage.Outcome
	if saveFile {
		blob = make(chan storage.Outcome, 1)
		f := storage.File{
			Name:       up.Filename,
			Data:       up.data,
			MIMEType:   up.ContentType,
			TaxID:      res.TaxID(),
			OCRSuccess: res.Success,
			ReceivedAt: s.now(),
		}
		go func() {
			out, err := s.deps.Blobs.Persist(ctx, f, rid)
			if err != nil {
				out = storage.Outcome{Attempts: []storage.Attempt{}, Error: err.Error()}
			}
			blob <- out
		}()
	}
	if res.Success {
		tbl := s.deps.Tables.Persist(ctx, res.Data, up.Filename, "")
		resp.Tables = &tbl
	}
	if blob != nil {
		out := <-blob
		resp.Storage = &out
	}

	resp.ProcessingTime = seconds(time.Since(start))
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	log.Info("http.process.done", "success", res.Success, "elapsed_ms", time.Since(start).Milliseconds())
	c.JSON(status, resp)
}

// uploadOnly stores the file under the given tax ID without extraction.
func (s *Server) uploadOnly(c *gin.Context) {
	up, ok := s.readUpload(c, anyDocument)
	if !ok {
		return
	}
	taxID := strings.TrimSpace(c.PostForm("tax_id"))
	if common.DigitsOnly(taxID) == "" {
		s.fail(c, http.StatusBadRequest, "form field \"tax_id\" is required")
		return
	}

	ctx, cancel := s.requestCtx(c)
	defer cancel()
	out, err := s.deps.Blobs.Persist(ctx, storage.File{
		Name:       up.Filename,
		Data:       up.data,
		MIMEType:   up.ContentType,
		TaxID:      taxID,
		ReceivedAt: s.now(),
	}, common.RequestIDFromContext(ctx))
	if err != nil {
		s.failErr(c, "upload", common.NewAppError(common.CodePersistence, "upload", err))
		return
	}

	status := http.StatusOK
	if !out.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"success":        out.Success,
		"file_info":      up.fileInfo,
		"tax_id":         common.SanitizeTaxID(taxID),
		"storage_result": out,
	})
}

func (s *Server) extractText(c *gin.Context) {
	start := time.Now()
	up, ok := s.readUpload(c, anyDocument)
	if !ok {
		return
	}
	ctx, cancel := s.requestCtx(c)
	defer cancel()

	res, err := s.deps.Processor.ExtractText(ctx, up.document())
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Warn("http.extract_text.failed", "filename", up.Filename, "error", err)
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"success":                 res.Success,
		"format":                  res.Format,
		"pages_processed":         res.PagesProcessed,
		"text":                    res.Text,
		"errors":                  res.Errors,
		"file_info":               up.fileInfo,
		"processing_time_seconds": seconds(time.Since(start)),
	})
}
