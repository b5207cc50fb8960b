// ABOUTME: Privileged broadcast injection endpoint authenticated with signed tokens.
// ABOUTME: HS256 JWTs signed with the API key; token ids are replay-protected.

package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/2389/moot/internal/dedupe"
	"github.com/2389/moot/internal/engine"
)

const (
	tokenIssuer = "moot"

	// injectTokenTTL bounds how long a minted injection token is valid.
	injectTokenTTL = 5 * time.Minute

	// replayTTL must cover the token lifetime so a replayed jti is still
	// remembered when its token would otherwise verify.
	replayTTL      = 10 * time.Minute
	replayCapacity = 4096
)

// injectRequest is the body of a POST /inject.
type injectRequest struct {
	Message string `json:"message"`
}

// injectResponse reports the delivery fan-out.
type injectResponse struct {
	Success        bool `json:"success"`
	RecipientCount int  `json:"recipient_count"`
}

// injector guards the system broadcast path behind signed bearer tokens.
type injector struct {
	engine *engine.Engine
	key    []byte
	seen   *dedupe.Cache
	logger *slog.Logger
}

func newInjector(e *engine.Engine, apiKey string, logger *slog.Logger) *injector {
	return &injector{
		engine: e,
		key:    []byte(apiKey),
		seen:   dedupe.New(replayTTL, replayCapacity),
		logger: logger.With("component", "inject"),
	}
}

func (i *injector) close() {
	i.seen.Close()
}

// MintInjectToken signs a short-lived token authorizing one broadcast
// injection. Used by the CLI's token subcommand.
func MintInjectToken(apiKey string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "inject",
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(injectTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(apiKey))
}

// verify checks the bearer token's signature, issuer, and expiry, and
// rejects a token id that was already used.
func (i *injector) verify(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return false
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.key, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		i.logger.Warn("injection token rejected", "error", err)
		return false
	}
	if claims.ID == "" {
		return false
	}
	if i.seen.CheckAndMark(claims.ID) {
		i.logger.Warn("injection token replayed", "jti", claims.ID)
		return false
	}
	return true
}

func (i *injector) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !i.verify(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req injectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize)).Decode(&req); err != nil {
		http.Error(w, "Bad Request: invalid JSON", http.StatusBadRequest)
		return
	}

	n, err := i.engine.InjectBroadcast(r.Context(), req.Message)
	if err != nil {
		code, message := errorCode(err)
		if code == JSONRPCInvalidParams {
			http.Error(w, "Bad Request: "+message, http.StatusBadRequest)
			return
		}
		i.logger.Error("broadcast injection failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	i.logger.Info("broadcast injected", "recipients", n)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(injectResponse{Success: true, RecipientCount: n})
}
