package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"finapi/models"
	"finapi/pkg/csvimport"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var importIDRE = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Terminal commit outcomes. The messages are the response bodies.
var (
	errAlreadyCommitted = errors.New("Importacao ja confirmada")
	errSessionExpired   = errors.New("Sessao de importacao expirada")
	errSessionGone      = errors.New("import session not found")
)

// sessionPayload is what an ImportSession row persists: only the rows that
// validated (invalid rows are reported to the caller and dropped) plus the
// dry-run summary.
type sessionPayload struct {
	Rows    []csvimport.Row   `json:"rows"`
	Summary csvimport.Summary `json:"summary"`
}

func importMaxBytes() int { return envInt("IMPORT_MAX_BYTES", 2*1024*1024) }
func importMaxRows() int  { return envInt("IMPORT_MAX_ROWS", csvimport.DefaultMaxRows) }
func importTTL() time.Duration {
	return time.Duration(envInt("IMPORT_TTL_MINUTES", 30)) * time.Minute
}

// loadCategoryMap builds the normalized name -> id lookup once per dry-run,
// scoped to the user's non-deleted categories.
func loadCategoryMap(userID uint) (map[string]uint, error) {
	var cats []models.Category
	if err := db.Where("user_id = ?", userID).Find(&cats).Error; err != nil {
		return nil, err
	}
	m := make(map[string]uint, len(cats))
	for _, cat := range cats {
		m[cat.NameNormalized] = cat.ID
	}
	return m, nil
}

// dryRunImportHandler validates an uploaded CSV and persists the result as a
// pending session. Invalid rows are data, not failures: the response carries
// them for display, the session payload keeps only the valid ones.
func dryRunImportHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	maxBytes := importMaxBytes()
	if file.Size > int64(maxBytes) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file too large (max %d bytes)", maxBytes)})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
		return
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
		return
	}
	if len(buf) > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file too large (max %d bytes)", maxBytes)})
		return
	}

	raws, err := csvimport.Parse(buf, importMaxRows())
	if err != nil {
		var limitErr *csvimport.RowLimitError
		switch {
		case errors.Is(err, csvimport.ErrInvalidFile), errors.Is(err, csvimport.ErrBadHeader), errors.As(err, &limitErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "parse failed"})
		}
		return
	}

	categories, err := loadCategoryMap(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	rows := csvimport.NormalizeAll(raws, categories)
	summary := csvimport.Summarize(rows)

	validRows := make([]csvimport.Row, 0, summary.ValidRows)
	for _, row := range rows {
		if row.Status == csvimport.StatusValid {
			validRows = append(validRows, row)
		}
	}
	payload, err := json.Marshal(sessionPayload{Rows: validRows, Summary: summary})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build session"})
		return
	}
	session := models.ImportSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Payload:   string(payload),
		ExpiresAt: time.Now().Add(importTTL()),
	}
	if err := db.Create(&session).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"importId":  session.ID,
		"expiresAt": session.ExpiresAt,
		"summary":   summary,
		"rows":      rows,
	})
}

// commitImportHandler materializes a pending session's valid rows into the
// ledger, at most once per session even under concurrent commits: the
// conditional committed_at update is the atomic gate, and a caller losing the
// race re-reads the row to report its true terminal state (already-committed
// wins over expired when both hold).
func commitImportHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "importId e obrigatorio"})
		return
	}
	if !importIDRE.MatchString(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "importId invalido"})
		return
	}
	// A session owned by someone else is indistinguishable from a missing one.
	var session models.ImportSession
	if err := db.Where("id = ? AND user_id = ?", id, user.ID).First(&session).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": errSessionGone.Error()})
		return
	}
	now := time.Now()
	if session.CommittedAt != nil {
		c.JSON(http.StatusConflict, gin.H{"error": errAlreadyCommitted.Error()})
		return
	}
	if !session.ExpiresAt.After(now) {
		c.JSON(http.StatusGone, gin.H{"error": errSessionExpired.Error()})
		return
	}
	var payload sessionPayload
	if err := json.Unmarshal([]byte(session.Payload), &payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt session payload"})
		return
	}

	var inserted int
	income, expense := decimal.Zero, decimal.Zero
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ImportSession{}).
			Where("id = ? AND user_id = ? AND committed_at IS NULL AND expires_at > ?", id, user.ID, now).
			Update("committed_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the claim; re-apply the state checks against the current
			// row so the reported reason matches reality.
			var cur models.ImportSession
			if err := tx.Where("id = ? AND user_id = ?", id, user.ID).First(&cur).Error; err != nil {
				return errSessionGone
			}
			if cur.CommittedAt != nil {
				return errAlreadyCommitted
			}
			return errSessionExpired
		}
		records := make([]models.Transaction, 0, len(payload.Rows))
		for _, row := range payload.Rows {
			n := row.Normalized
			if n == nil {
				continue
			}
			date, err := time.Parse("2006-01-02", n.Date)
			if err != nil {
				return fmt.Errorf("bad date in session payload: %w", err)
			}
			records = append(records, models.Transaction{
				UserID:      user.ID,
				Type:        n.Type,
				Value:       n.Value,
				Date:        date,
				Description: n.Description,
				Notes:       n.Notes,
				CategoryID:  n.CategoryID,
				ImportID:    &session.ID,
			})
		}
		// A dry-run where every row was invalid still commits, inserting nothing.
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 500).Error; err != nil {
				return err
			}
		}
		for _, t := range records {
			if t.Type == csvimport.TypeEntry {
				income = income.Add(t.Value)
			} else {
				expense = expense.Add(t.Value)
			}
		}
		inserted = len(records)
		return nil
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"imported": inserted,
			"summary": gin.H{
				"income":  income,
				"expense": expense,
				"balance": income.Sub(expense),
			},
		})
	case errors.Is(err, errAlreadyCommitted):
		c.JSON(http.StatusConflict, gin.H{"error": errAlreadyCommitted.Error()})
	case errors.Is(err, errSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": errSessionExpired.Error()})
	case errors.Is(err, errSessionGone):
		c.JSON(http.StatusNotFound, gin.H{"error": errSessionGone.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "commit failed"})
	}
}

func listImportsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	limit, offset, ok := paginationParams(c)
	if !ok {
		return
	}
	var sessions []models.ImportSession
	if err := db.Where("user_id = ?", user.ID).
		Order("created_at desc").Limit(limit).Offset(offset).
		Find(&sessions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	items := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		var payload sessionPayload
		if err := json.Unmarshal([]byte(s.Payload), &payload); err != nil {
			// keep the session visible with zeroed counts rather than
			// failing the whole listing
			log.Printf("corrupt payload in import session %s: %v", s.ID, err)
		}
		imported := 0
		if s.CommittedAt != nil {
			imported = payload.Summary.ValidRows
		}
		items = append(items, gin.H{
			"id":          s.ID,
			"createdAt":   s.CreatedAt,
			"expiresAt":   s.ExpiresAt,
			"committedAt": s.CommittedAt,
			"summary": gin.H{
				"totalRows":   payload.Summary.TotalRows,
				"validRows":   payload.Summary.ValidRows,
				"invalidRows": payload.Summary.InvalidRows,
				"income":      payload.Summary.Income,
				"expense":     payload.Summary.Expense,
				"imported":    imported,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "pagination": gin.H{"limit": limit, "offset": offset}})
}

func importMetricsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var total, recent int64
	if err := db.Model(&models.ImportSession{}).Where("user_id = ?", user.ID).Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if err := db.Model(&models.ImportSession{}).
		Where("user_id = ? AND created_at >= ?", user.ID, time.Now().AddDate(0, 0, -30)).
		Count(&recent).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	var last models.ImportSession
	var lastAt *time.Time
	if err := db.Where("user_id = ?", user.ID).Order("created_at desc").First(&last).Error; err == nil {
		lastAt = &last.CreatedAt
	}
	c.JSON(http.StatusOK, gin.H{
		"total":        total,
		"last30Days":   recent,
		"lastImportAt": lastAt,
	})
}
