package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tradex-core/pkg/db"
)

const (
	accountContextKey = "AccountID"
	tokenTTL          = 72 * time.Hour
	minPasswordLen    = 8
)

// AccountClaims carries the account id of an authenticated user.
type AccountClaims struct {
	AccountID string `json:"uid"`
	jwt.RegisteredClaims
}

func generateToken(accountID, secret string, expiresAt time.Time) (string, error) {
	claims := AccountClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	claims := &AccountClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.AccountID == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.AccountID, nil
}

// bearerToken reads the Authorization header, falling back to ?token= for
// browser websocket clients that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return parts[1], true
	}
	if q := c.Query("token"); q != "" {
		return q, true
	}
	return "", false
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "missing or malformed bearer token")
			c.Abort()
			return
		}
		accountID, err := parseToken(raw, secret)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(accountContextKey, accountID)
		c.Next()
	}
}

// CurrentAccountID returns the authenticated account id from context.
func CurrentAccountID(c *gin.Context) string {
	return c.GetString(accountContextKey)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *credentialsRequest) normalize() error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || r.Password == "" {
		return errors.New("email and password are required")
	}
	return nil
}

func (s *Server) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	if err := req.normalize(); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid email format")
		return
	}
	if len(req.Password) < minPasswordLen {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "password must be at least 8 characters")
		return
	}

	ctx := c.Request.Context()
	existing, err := s.deps.Store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if existing != nil {
		respondError(c, http.StatusConflict, "EMAIL_ALREADY_REGISTERED", "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.internalError(c, err)
		return
	}
	user := db.User{ID: uuid.NewString(), Email: req.Email, PasswordHash: string(hash)}
	if err := s.deps.Store.CreateUser(ctx, user); err != nil {
		s.internalError(c, err)
		return
	}
	s.log.Info().Str("account_id", user.ID).Msg("user registered")
	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID, "email": strings.ToLower(user.Email)})
}

func (s *Server) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	if err := req.normalize(); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	user, err := s.deps.Store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	expiresAt := time.Now().Add(tokenTTL)
	token, err := generateToken(user.ID, s.deps.JWTSecret, expiresAt)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "bearer",
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user_id":    user.ID,
	})
}
