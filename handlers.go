package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"finapi/models"
	"finapi/pkg/csvimport"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

func setupRoutes(r *gin.Engine) {
	r.GET("/healthz", healthHandler)
	r.POST("/register", rateLimitMiddleware("auth"), registerHandler)
	r.POST("/login", rateLimitMiddleware("auth"), loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)

	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware(), rateLimitMiddleware("api"))
	authGroup.GET("/me", meHandler)
	authGroup.POST("/categories", createCategoryHandler)
	authGroup.GET("/categories", listCategoriesHandler)
	authGroup.PUT("/categories/:id", updateCategoryHandler)
	authGroup.DELETE("/categories/:id", deleteCategoryHandler)
	authGroup.POST("/transactions", createTransactionHandler)
	authGroup.GET("/transactions", listTransactionsHandler)
	authGroup.PUT("/transactions/:id", updateTransactionHandler)
	authGroup.DELETE("/transactions/:id", deleteTransactionHandler)
	authGroup.GET("/transactions/export", requireFeature("csv_export"), exportTransactionsHandler)
	authGroup.POST("/budgets", upsertBudgetHandler)
	authGroup.GET("/budgets", listBudgetsHandler)
	authGroup.GET("/analytics/trend", trendHandler)
	authGroup.GET("/billing/summary", billingSummaryHandler)

	importGroup := authGroup.Group("/imports")
	importGroup.Use(requireFeature("csv_import"))
	importGroup.POST("/dry-run", rateLimitMiddleware("import"), dryRunImportHandler)
	importGroup.POST("/:id/commit", rateLimitMiddleware("import"), commitImportHandler)
	importGroup.GET("", listImportsHandler)
	importGroup.GET("/metrics", importMetricsHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		username, _ := claims["username"].(string)
		c.Set("username", username)
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	usernameVal, _ := c.Get("username")
	if usernameVal == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing username"})
		return
	}
	username := usernameVal.(string)
	c.JSON(http.StatusOK, gin.H{"username": username})
}

// getUserFromContext fetches the currently authenticated user using the username set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	unameVal, _ := c.Get("username")
	if unameVal == nil {
		return nil, false
	}
	uname := unameVal.(string)
	var user models.User
	if err := db.Where("username = ?", uname).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := RegisterUser(req.Username, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Brute-force lockout keyed on caller address + submitted identifier.
	// While locked every attempt is rejected before credentials are checked.
	guardKey := c.ClientIP() + "|" + strings.ToLower(strings.TrimSpace(req.Username))
	if loginGuard.Locked(guardKey) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed login attempts, try again later"})
		return
	}
	user, err := Authenticate(req.Username, req.Password)
	if err != nil {
		loginGuard.Fail(guardKey)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	loginGuard.Reset(guardKey)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"exp":      time.Now().Add(time.Hour * 24).Unix(),
	})
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	rt := models.RefreshToken{UserID: userID, TokenHash: th, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

// helper to find refresh token record by raw token string
func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", th).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"exp":      time.Now().Add(15 * time.Minute).Unix(),
	})
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

func createCategoryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	normalized := csvimport.NormalizeName(name)
	if normalized == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	// two categories of one user may not normalize identically
	var existing models.Category
	if err := db.Where("user_id = ? AND name_normalized = ?", user.ID, normalized).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Categoria ja existe"})
		return
	}
	cat := models.Category{UserID: user.ID, Name: name, NameNormalized: normalized}
	if err := db.Create(&cat).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cat.ID, "name": cat.Name})
}

func listCategoriesHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var cats []models.Category
	if err := db.Where("user_id = ?", user.ID).Order("name asc").Find(&cats).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	items := make([]gin.H, 0, len(cats))
	for _, cat := range cats {
		items = append(items, gin.H{"id": cat.ID, "name": cat.Name})
	}
	c.JSON(http.StatusOK, items)
}

func updateCategoryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var cat models.Category
	if err := db.Where("id = ? AND user_id = ?", c.Param("id"), user.ID).First(&cat).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}
	name := strings.TrimSpace(req.Name)
	normalized := csvimport.NormalizeName(name)
	if normalized == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	var existing models.Category
	if err := db.Where("user_id = ? AND name_normalized = ? AND id <> ?", user.ID, normalized, cat.ID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Categoria ja existe"})
		return
	}
	cat.Name = name
	cat.NameNormalized = normalized
	if err := db.Save(&cat).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cat.ID, "name": cat.Name})
}

func deleteCategoryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var cat models.Category
	if err := db.Where("id = ? AND user_id = ?", c.Param("id"), user.ID).First(&cat).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}
	// soft delete; transactions keep their category_id and the name stays
	// resolvable for history, but the category leaves import lookups
	if err := db.Delete(&cat).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "category deleted"})
}

func createTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Type        string          `json:"type" binding:"required"`
		Value       decimal.Decimal `json:"value"`
		Date        string          `json:"date" binding:"required"`
		Description string          `json:"description" binding:"required"`
		Notes       string          `json:"notes"`
		CategoryID  *uint           `json:"categoryId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type != csvimport.TypeEntry && req.Type != csvimport.TypeExit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be entry or exit"})
		return
	}
	if !req.Value.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valor invalido. Informe um numero maior que zero."})
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Data invalida. Use YYYY-MM-DD."})
		return
	}
	if req.CategoryID != nil {
		var cat models.Category
		if err := db.Where("id = ? AND user_id = ?", *req.CategoryID, user.ID).First(&cat).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Categoria nao encontrada."})
			return
		}
	}
	t := models.Transaction{
		UserID:      user.ID,
		Type:        req.Type,
		Value:       req.Value.Round(2),
		Date:        date,
		Description: strings.TrimSpace(req.Description),
		Notes:       strings.TrimSpace(req.Notes),
		CategoryID:  req.CategoryID,
	}
	if err := db.Create(&t).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": t.ID})
}

func listTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	limit, offset, ok := paginationParams(c)
	if !ok {
		return
	}
	q := db.Where("user_id = ?", user.ID)
	if month := c.Query("month"); month != "" {
		q = q.Where("to_char(date, 'YYYY-MM') = ?", month)
	}
	if cid := c.Query("categoryId"); cid != "" {
		q = q.Where("category_id = ?", cid)
	}
	var items []models.Transaction
	if err := q.Order("date desc, id desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "pagination": gin.H{"limit": limit, "offset": offset}})
}

func updateTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var t models.Transaction
	if err := db.Where("id = ? AND user_id = ?", c.Param("id"), user.ID).First(&t).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	var req struct {
		Type        *string          `json:"type"`
		Value       *decimal.Decimal `json:"value"`
		Date        *string          `json:"date"`
		Description *string          `json:"description"`
		Notes       *string          `json:"notes"`
		CategoryID  *uint            `json:"categoryId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type != nil {
		if *req.Type != csvimport.TypeEntry && *req.Type != csvimport.TypeExit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be entry or exit"})
			return
		}
		t.Type = *req.Type
	}
	if req.Value != nil {
		if !req.Value.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Valor invalido. Informe um numero maior que zero."})
			return
		}
		t.Value = req.Value.Round(2)
	}
	if req.Date != nil {
		date, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Data invalida. Use YYYY-MM-DD."})
			return
		}
		t.Date = date
	}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if desc == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Descricao e obrigatoria."})
			return
		}
		t.Description = desc
	}
	if req.Notes != nil {
		t.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.CategoryID != nil {
		var cat models.Category
		if err := db.Where("id = ? AND user_id = ?", *req.CategoryID, user.ID).First(&cat).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Categoria nao encontrada."})
			return
		}
		t.CategoryID = req.CategoryID
	}
	if err := db.Save(&t).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": t.ID})
}

func deleteTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	res := db.Where("id = ? AND user_id = ?", c.Param("id"), user.ID).Delete(&models.Transaction{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction deleted"})
}

// exportTransactionsHandler streams the user's ledger back in the same column
// layout the importer accepts, so an export can round-trip.
func exportTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var items []models.Transaction
	if err := db.Preload("Category").Where("user_id = ?", user.ID).Order("date asc, id asc").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="transactions.csv"`)
	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"date", "type", "value", "description", "notes", "category"})
	for _, t := range items {
		kind := "Entrada"
		if t.Type == csvimport.TypeExit {
			kind = "Saida"
		}
		category := ""
		if t.Category != nil {
			category = t.Category.Name
		}
		_ = w.Write([]string{
			t.Date.Format("2006-01-02"),
			kind,
			t.Value.StringFixed(2),
			t.Description,
			t.Notes,
			category,
		})
	}
	w.Flush()
}

func upsertBudgetHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		CategoryID uint            `json:"categoryId" binding:"required"`
		Month      string          `json:"month" binding:"required"`
		Amount     decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := time.Parse("2006-01", req.Month); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be greater than zero"})
		return
	}
	var cat models.Category
	if err := db.Where("id = ? AND user_id = ?", req.CategoryID, user.ID).First(&cat).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Categoria nao encontrada."})
		return
	}
	var budget models.Budget
	err := db.Where("user_id = ? AND category_id = ? AND month = ?", user.ID, req.CategoryID, req.Month).First(&budget).Error
	if err == nil {
		budget.Amount = req.Amount.Round(2)
		if err := db.Save(&budget).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
	} else {
		budget = models.Budget{UserID: user.ID, CategoryID: req.CategoryID, Month: req.Month, Amount: req.Amount.Round(2)}
		if err := db.Create(&budget).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"id": budget.ID})
}

func listBudgetsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	month := c.Query("month")
	if month == "" {
		month = time.Now().Format("2006-01")
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
		return
	}
	var budgets []models.Budget
	if err := db.Where("user_id = ? AND month = ?", user.ID, month).Find(&budgets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	items := make([]gin.H, 0, len(budgets))
	for _, b := range budgets {
		var spent decimal.Decimal
		row := db.Model(&models.Transaction{}).
			Select("coalesce(sum(value), 0)").
			Where("user_id = ? AND category_id = ? AND type = ? AND to_char(date, 'YYYY-MM') = ?",
				user.ID, b.CategoryID, csvimport.TypeExit, month).
			Row()
		_ = row.Scan(&spent)
		items = append(items, gin.H{
			"id":         b.ID,
			"categoryId": b.CategoryID,
			"month":      b.Month,
			"amount":     b.Amount,
			"spent":      spent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "month": month})
}

// trendHandler returns monthly income/expense/balance, window capped by plan.
func trendHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	_, spec := planFor(user.ID)
	months := spec.TrendMonths
	if v := c.Query("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "months must be a positive integer"})
			return
		}
		if n < months {
			months = n
		}
	}
	now := time.Now()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	type bucket struct {
		Income  decimal.Decimal
		Expense decimal.Decimal
	}
	buckets := map[string]*bucket{}
	var order []string
	rows, err := db.Model(&models.Transaction{}).
		Select("to_char(date, 'YYYY-MM') as month, type, sum(value) as total").
		Where("user_id = ? AND date >= ?", user.ID, since).
		Group("month, type").Order("month asc").Rows()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	defer rows.Close()
	for rows.Next() {
		var month, kind string
		var total decimal.Decimal
		if err := rows.Scan(&month, &kind, &total); err != nil {
			continue
		}
		b := buckets[month]
		if b == nil {
			b = &bucket{}
			buckets[month] = b
			order = append(order, month)
		}
		if kind == csvimport.TypeEntry {
			b.Income = total
		} else {
			b.Expense = total
		}
	}
	items := make([]gin.H, 0, len(order))
	for _, month := range order {
		b := buckets[month]
		items = append(items, gin.H{
			"month":   month,
			"income":  b.Income,
			"expense": b.Expense,
			"balance": b.Income.Sub(b.Expense),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "months": months})
}

func billingSummaryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	plan, spec := planFor(user.ID)
	features := make([]string, 0, len(spec.Features))
	for f, on := range spec.Features {
		if on {
			features = append(features, f)
		}
	}
	sort.Strings(features)
	resp := gin.H{
		"plan":        plan,
		"features":    features,
		"importQuota": spec.ImportQuota,
		"trendMonths": spec.TrendMonths,
	}
	var sub models.Subscription
	if err := db.Where("user_id = ?", user.ID).First(&sub).Error; err == nil {
		resp["status"] = sub.Status
		resp["currentPeriodEnd"] = sub.CurrentPeriodEnd
	}
	c.JSON(http.StatusOK, resp)
}

func healthHandler(c *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil || sqlDB.Ping() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// paginationParams reads limit (1-100, default 20) and offset (>= 0, default
// 0); on invalid input it writes the 400 itself and reports !ok.
func paginationParams(c *gin.Context) (int, int, bool) {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination"})
			return 0, 0, false
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
