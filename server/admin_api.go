package server

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

const adminTokenIssuer = "playbot"

// AdminAPI serves a read-only view of the stores over HTTP.
type AdminAPI struct {
	logger     *zap.Logger
	lifecycle  *PlayRequestLifecycle
	signingKey []byte
	server     *http.Server
}

type playRequestListResponse struct {
	PlayRequests []*PlayRequest `json:"playRequests"`
	Count        int            `json:"count"`
}

type banListResponse struct {
	BannedUsers []string `json:"bannedUsers"`
	Count       int      `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAdminAPI(logger *zap.Logger, config *AdminConfig, lifecycle *PlayRequestLifecycle) *AdminAPI {
	a := &AdminAPI{
		logger:     logger.With(zap.String("system", "admin_api")),
		lifecycle:  lifecycle,
		signingKey: []byte(config.SigningKey),
	}

	CORSHeaders := handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "User-Agent"})
	CORSOrigins := handlers.AllowedOrigins([]string{"*"})
	CORSMethods := handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead})
	handlerWithCORS := handlers.CORS(CORSHeaders, CORSOrigins, CORSMethods)(a.Router())

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Address, config.Port),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      gzhttp.GzipHandler(handlerWithCORS),
	}
	return a
}

func (a *AdminAPI) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthcheck", a.healthcheck).Methods(http.MethodGet, http.MethodHead)
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(a.authenticate)
	v1.HandleFunc("/playrequests", a.listPlayRequests).Methods(http.MethodGet)
	v1.HandleFunc("/playrequests/{id}", a.getPlayRequest).Methods(http.MethodGet)
	v1.HandleFunc("/bans", a.listBans).Methods(http.MethodGet)
	return router
}

// Start listens in the background. A failure to bind is fatal.
func (a *AdminAPI) Start(startupLogger *zap.Logger) {
	startupLogger.Info("Starting admin API", zap.String("addr", a.server.Addr))
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startupLogger.Fatal("Admin API listener failed", zap.Error(err))
		}
	}()
}

func (a *AdminAPI) Stop(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("Admin API shutdown failed", zap.Error(err))
	}
}

// GenerateAdminToken signs a bearer token for the admin API.
func GenerateAdminToken(signingKey, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
		Issuer:    adminTokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(signingKey))
}

func parseAdminToken(hmacSecretByte []byte, tokenString string) (subject string, ok bool) {
	jwtToken, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if s, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || s.Hash != crypto.SHA256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return hmacSecretByte, nil
	})
	if err != nil {
		return "", false
	}
	claims, ok := jwtToken.Claims.(*jwt.RegisteredClaims)
	if !ok || !jwtToken.Valid || claims.ExpiresAt == nil || !claims.VerifyIssuer(adminTokenIssuer, true) {
		return "", false
	}
	return claims.Subject, true
}

func (a *AdminAPI) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found || len(a.signingKey) == 0 {
			a.writeJSON(w, http.StatusUnauthorized, &errorResponse{Error: "Bearer token required."})
			return
		}
		subject, ok := parseAdminToken(a.signingKey, token)
		if !ok {
			a.writeJSON(w, http.StatusUnauthorized, &errorResponse{Error: "Invalid token."})
			return
		}
		a.logger.Debug("Admin API request", zap.String("subject", subject), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAPI) healthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

func (a *AdminAPI) listPlayRequests(w http.ResponseWriter, r *http.Request) {
	requests := a.lifecycle.ListRequests()
	a.writeJSON(w, http.StatusOK, &playRequestListResponse{PlayRequests: requests, Count: len(requests)})
}

func (a *AdminAPI) getPlayRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pr, found := a.lifecycle.Get(id)
	if !found {
		a.writeJSON(w, http.StatusNotFound, &errorResponse{Error: ErrPlayRequestNotFound.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, pr)
}

func (a *AdminAPI) listBans(w http.ResponseWriter, r *http.Request) {
	bans := a.lifecycle.ListBans()
	a.writeJSON(w, http.StatusOK, &banListResponse{BannedUsers: bans, Count: len(bans)})
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to write response", zap.Error(err))
	}
}
