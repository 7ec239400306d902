package server

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/tables"
)

func (s *Server) listFiles(c *gin.Context) {
	taxID := c.Param("tax_id")
	if common.DigitsOnly(taxID) == "" {
		s.fail(c, http.StatusBadRequest, "tax_id must contain digits")
		return
	}
	date := c.Query("date")
	if date != "" {
		if _, err := time.Parse(constants.DateFolderLayout, date); err != nil {
			s.fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}
	listing, err := s.deps.Storage.ListFiles(c.Request.Context(), taxID, date)
	if err != nil {
		s.failErr(c, "storage.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"tax_id":       listing.TaxID,
		"date":         date,
		"storage_type": listing.StorageType,
		"files":        listing.Files,
		"total_files":  listing.Total,
	})
}

func (s *Server) storageHealth(c *gin.Context) {
	h := s.deps.Storage.Health(c.Request.Context())
	status := http.StatusOK
	if h.Status == constants.HealthDriveError || !h.Local.Writable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) storageStats(c *gin.Context) {
	st, err := s.deps.Storage.Stats()
	if err != nil {
		s.failErr(c, "storage.stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "local_storage": st})
}

func (s *Server) recent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		s.fail(c, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	rows, err := s.deps.Tables.Recent(c.Request.Context(), limit)
	if err != nil {
		s.failErr(c, "tables.recent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "limit": limit, "data": rows})
}

func (s *Server) taxIDTables(c *gin.Context) {
	tt, err := s.deps.Tables.TaxIDTables(c.Request.Context())
	if err != nil {
		s.failErr(c, "tables.tax_ids", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(tt), "cnpj_worksheets": tt})
}

func (s *Server) tableStats(c *gin.Context) {
	st, err := s.deps.Tables.Stats(c.Request.Context())
	if err != nil {
		s.failErr(c, "tables.stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "statistics": st, "timestamp": s.now().Format(time.RFC3339)})
}

func (s *Server) ensureHeaders(c *gin.Context) {
	if err := s.deps.Tables.EnsureHeaders(c.Request.Context()); err != nil {
		s.failErr(c, "tables.ensure_headers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "headers verified",
		"details": gin.H{
			"resumo_headers_count": len(tables.SummaryHeaders),
			"itens_headers_count":  len(tables.ItemHeaders),
		},
	})
}

type monthly struct {
	Count      int     `json:"count"`
	TotalValue float64 `json:"valor_total"`
}

// stats combines table statistics with an analysis of the last 50 summary rows.
func (s *Server) stats(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := s.deps.Tables.Stats(ctx)
	if err != nil {
		s.failErr(c, "stats", err)
		return
	}
	recent, err := s.deps.Tables.Recent(ctx, 50)
	if err != nil {
		s.failErr(c, "stats", err)
		return
	}

	succeeded := 0
	months := map[string]*monthly{}
	for _, row := range recent {
		if row["Status Processamento"] == tables.StatusProcessed {
			succeeded++
		}
		// "02/01/2006 15:04:05" -> "01/2006"
		day, _, _ := strings.Cut(row["Data/Hora Processamento"], " ")
		parts := strings.Split(day, "/")
		if len(parts) != 3 {
			continue
		}
		key := parts[1] + "/" + parts[2]
		m := months[key]
		if m == nil {
			m = &monthly{}
			months[key] = m
		}
		m.Count++
		if v, err := strconv.ParseFloat(row["Valor Total"], 64); err == nil {
			m.TotalValue += v
		}
	}
	for _, m := range months {
		m.TotalValue = round2(m.TotalValue)
	}

	var last any
	if len(recent) > 0 {
		last = recent[0]["Data/Hora Processamento"]
	}
	errorRate := 0.0
	if n := len(recent); n > 0 {
		errorRate = round2(float64(n-succeeded) / float64(n) * 100)
	}

	resp := gin.H{
		"success":   true,
		"timestamp": s.now().Format(time.RFC3339),
		"service_stats": gin.H{
			"total_processed_recent": len(recent),
			"successful_recent":      succeeded,
			"error_rate_recent":      errorRate,
			"last_processed":         last,
		},
		"sheets_stats":     st,
		"monthly_analysis": months,
		"months":           sortedKeys(months),
	}
	if ls, err := s.deps.Storage.Stats(); err == nil {
		resp["local_storage"] = ls
	}
	c.JSON(http.StatusOK, resp)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys(m map[string]*monthly) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// health is healthy when both the tables and the blob chain answer, partial (206)
// when one does, and unhealthy (503) when neither does.
func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()

	tablesStatus := gin.H{"status": "healthy", "backend": s.opts.TableBackend}
	tablesOK := true
	if _, err := s.deps.Tables.TaxIDTables(ctx); err != nil {
		tablesOK = false
		tablesStatus = gin.H{"status": "unhealthy", "backend": s.opts.TableBackend, "error": err.Error()}
	}
	sh := s.deps.Storage.Health(ctx)
	storageOK := sh.Local.Writable && sh.Status != constants.HealthDriveError

	overall, status := "healthy", http.StatusOK
	switch {
	case tablesOK && storageOK:
	case tablesOK || storageOK:
		overall, status = "partial", http.StatusPartialContent
	default:
		overall, status = "unhealthy", http.StatusServiceUnavailable
	}

	exts := make([]string, 0, len(constants.AllowedExtensions))
	for e := range constants.AllowedExtensions {
		exts = append(exts, e)
	}
	sort.Strings(exts)

	c.JSON(status, gin.H{
		"overall_status": overall,
		"timestamp":      s.now().Format(time.RFC3339),
		"services": gin.H{
			"tables":  tablesStatus,
			"storage": sh,
		},
		"configuration": gin.H{
			"model":              s.opts.Model,
			"max_file_size_mb":   float64(s.opts.MaxFileSize) / (1 << 20),
			"allowed_extensions": exts,
		},
	})
}
