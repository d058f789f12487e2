package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/db"
)

const (
	DeviceTokenHeader = "X-Device-Token"

	cookieName      = "printdesk_auth"
	claimsKey       = "claims"
	minPasswordLen  = 6
	defaultTokenTTL = 24 * time.Hour
	tokenIssuer     = "printdesk"
)

var ErrUserExists = errors.New("user already exists")

type Claims struct {
	jwt.RegisteredClaims
	PRN   string `json:"prn"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type User struct {
	PRN   string `json:"prn"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type userRecord struct {
	User
	hash []byte
}

// AuditWriter persists security relevant events such as logins.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *db.AuditLog) error
}

type AuthMiddleware struct {
	mu     sync.RWMutex
	users  map[string]*userRecord
	admins map[string]bool
	secret []byte
	device []byte
	ttl    time.Duration
	audit  AuditWriter
	logger logrus.FieldLogger
}

type LoginRequest struct {
	PRN      string `json:"prn" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type RegisterUserRequest struct {
	PRN      string `json:"prn" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func NewAuthMiddleware(cfg config.AuthConfig, audit AuditWriter, logger logrus.FieldLogger) (*AuthMiddleware, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	a := &AuthMiddleware{
		users:  make(map[string]*userRecord, len(cfg.Users)),
		admins: make(map[string]bool, len(cfg.Admins)),
		secret: []byte(cfg.JWTSecret),
		device: []byte(cfg.DeviceToken),
		ttl:    ttl,
		audit:  audit,
		logger: logger,
	}
	for _, u := range cfg.Users {
		a.users[u.PRN] = &userRecord{
			User: User{PRN: u.PRN, Name: u.Name, Email: u.Email},
			hash: []byte(u.PasswordHash),
		}
	}
	for _, prn := range cfg.Admins {
		a.admins[prn] = true
	}
	if len(a.device) == 0 && logger != nil {
		logger.Warn("no device token configured, HTTP status reports are unauthenticated")
	}
	return a, nil
}

func (a *AuthMiddleware) generateToken(u User) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.PRN,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Issuer:    tokenIssuer,
		},
		PRN:   u.PRN,
		Name:  u.Name,
		Email: u.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.PRN != "" {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	return ""
}

func (a *AuthMiddleware) lookup(prn string) (userRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[prn]
	if !ok {
		return userRecord{}, false
	}
	return *u, true
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PRN and password are required"})
		return
	}

	u, ok := a.lookup(req.PRN)
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(req.Password)) != nil {
		a.logger.WithField("prn", req.PRN).Info("login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := a.generateToken(u.User)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	a.recordAudit(c, "login", u.PRN)
	c.SetCookie(cookieName, token, int(a.ttl.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Token: token, User: u.User})
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *AuthMiddleware) MeHandler(c *gin.Context) {
	claims := MustClaims(c)
	c.JSON(http.StatusOK, gin.H{"user": User{PRN: claims.PRN, Name: claims.Name, Email: claims.Email}})
}

func (a *AuthMiddleware) ChangePasswordHandler(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Old and new passwords are required"})
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "New password must be at least 6 characters long"})
		return
	}

	prn := MustClaims(c).PRN
	u, ok := a.lookup(prn)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(req.OldPassword)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid old password"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	a.mu.Lock()
	if rec, ok := a.users[prn]; ok {
		rec.hash = hash
	}
	a.mu.Unlock()

	a.recordAudit(c, "password_changed", prn)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password changed successfully"})
}

// RegisterUserHandler adds a user. Without an explicit password the PRN is
// the initial password.
func (a *AuthMiddleware) RegisterUserHandler(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PRN and name are required"})
		return
	}
	password := req.Password
	if password == "" {
		password = req.PRN
	}

	u, err := a.Register(User{PRN: req.PRN, Name: req.Name, Email: req.Email}, password)
	if errors.Is(err, ErrUserExists) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PRN already exists"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	a.recordAudit(c, "user_registered", u.PRN)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
}

func (a *AuthMiddleware) Register(u User, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.users[u.PRN]; exists {
		return User{}, ErrUserExists
	}
	a.users[u.PRN] = &userRecord{User: u, hash: hash}
	return u, nil
}

func (a *AuthMiddleware) ListUsersHandler(c *gin.Context) {
	a.mu.RLock()
	users := make([]User, 0, len(a.users))
	for _, u := range a.users {
		users = append(users, u.User)
	}
	a.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].PRN < users[j].PRN })
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (a *AuthMiddleware) recordAudit(c *gin.Context, action, prn string) {
	if a.audit == nil {
		return
	}
	err := a.audit.CreateAuditLog(c.Request.Context(), &db.AuditLog{
		Action:     action,
		EntityType: db.EntityUser,
		EntityID:   prn,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Warn("audit write failed")
	}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
			return
		}

		claims, err := a.validateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Set("user_id", claims.PRN)
		c.Next()
	}
}

// RequireDevice guards routes printers call. Without a configured device
// token every request passes.
func (a *AuthMiddleware) RequireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.device) == 0 {
			c.Next()
			return
		}

		token := c.GetHeader(DeviceTokenHeader)
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), a.device) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Device token required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok || !a.IsAdmin(claims.PRN) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func (a *AuthMiddleware) IsAdmin(prn string) bool {
	return a.admins[prn]
}

func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// MustClaims returns the claims set by RequireAuth.
func MustClaims(c *gin.Context) *Claims {
	claims, ok := GetClaims(c)
	if !ok {
		panic("middleware: claims missing, route is not behind RequireAuth")
	}
	return claims
}

// AccountKey is the ledger and job owner key of the authenticated caller.
func AccountKey(c *gin.Context) string {
	return MustClaims(c).PRN
}
