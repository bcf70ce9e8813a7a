package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liangyon/machi-quest/instrumentation"
	"github.com/liangyon/machi-quest/security"
	"github.com/liangyon/machi-quest/storage"
)

// RefreshCookieName is the cookie carrying the raw refresh token. Scoped to
// the auth path so it never rides along on API calls.
const RefreshCookieName = "refresh_token"

// refreshCookiePath limits where the browser sends the refresh cookie.
const refreshCookiePath = "/auth"

// Handler is a thin HTTP adapter over Server. It owns request parsing,
// cookies, and response encoding; Server owns the semantics.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates an HTTP handler for an auth server.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		server: server,
		logger: logger,
	}
	if server.instr != nil {
		h.tracer = server.instr.Tracer("http")
	}
	return h
}

// Routes returns a mux with every auth endpoint registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signup", h.HandleSignup)
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/refresh", h.HandleRefresh)
	mux.HandleFunc("POST /auth/logout", h.HandleLogout)
	mux.HandleFunc("POST /auth/revoke-all", h.HandleRevokeAll)
	mux.HandleFunc("GET /auth/me", h.HandleMe)
	mux.HandleFunc("GET /auth/{provider}/login", h.HandleProviderLogin)
	mux.HandleFunc("GET /auth/{provider}/callback", h.HandleProviderCallback)
	mux.HandleFunc("GET /auth/{provider}/token", h.HandleProviderToken)
	mux.HandleFunc("DELETE /auth/{provider}", h.HandleProviderDisconnect)
	return mux
}

// ============================================================
// Password endpoints
// ============================================================

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// HandleSignup registers an account and logs it in.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "signup")
	defer finish(http.StatusOK)

	clientIP := h.clientIP(r)
	if !h.allow(w, r, h.server.signupLimiter, "signup", clientIP) {
		finish(http.StatusTooManyRequests)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAuthError(w, r, ErrInvalidRequest("invalid JSON body"))
		finish(http.StatusBadRequest)
		return
	}

	pair, err := h.server.Signup(ctx, req.Email, req.Password, req.DisplayName, clientIP)
	if err != nil {
		finish(h.writeError(w, r, err))
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	h.writeTokenResponse(w, r, pair, http.StatusCreated)
	finish(http.StatusCreated)
}

// HandleLogin authenticates with email and password.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "login")
	defer finish(http.StatusOK)

	clientIP := h.clientIP(r)
	if !h.allow(w, r, h.server.loginLimiter, "login", clientIP) {
		finish(http.StatusTooManyRequests)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAuthError(w, r, ErrInvalidRequest("invalid JSON body"))
		finish(http.StatusBadRequest)
		return
	}

	pair, err := h.server.Login(ctx, req.Email, req.Password, clientIP)
	if err != nil {
		finish(h.writeError(w, r, err))
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	h.writeTokenResponse(w, r, pair, http.StatusOK)
}

// ============================================================
// Session endpoints
// ============================================================

// HandleRefresh rotates the refresh cookie and returns a fresh access token.
// The cookie is replaced on success and cleared when the session is gone for
// good, so a client that lost the race simply logs in again.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "refresh")
	defer finish(http.StatusOK)

	clientIP := h.clientIP(r)
	if !h.allow(w, r, h.server.refreshLimiter, "refresh", clientIP) {
		finish(http.StatusTooManyRequests)
		return
	}

	raw := h.refreshTokenFromRequest(r)
	if raw == "" {
		h.writeAuthError(w, r, ErrInvalidRequest("missing refresh token"))
		finish(http.StatusBadRequest)
		return
	}

	pair, err := h.server.Refresh(ctx, raw, clientIP)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) && authErr.Status == http.StatusUnauthorized {
			h.clearRefreshCookie(w)
		}
		finish(h.writeError(w, r, err))
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	h.writeTokenResponse(w, r, pair, http.StatusOK)
}

// HandleLogout revokes the presented session family and clears the cookie.
// Always succeeds from the client's point of view.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "logout")
	defer finish(http.StatusNoContent)

	raw := h.refreshTokenFromRequest(r)
	if raw != "" {
		if err := h.server.Logout(ctx, raw, h.clientIP(r)); err != nil {
			finish(h.writeError(w, r, err))
			return
		}
	}

	h.clearRefreshCookie(w)
	security.SetSecurityHeaders(w, h.server.config.PublicURL)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevokeAll terminates every session of the authenticated account.
func (h *Handler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "revoke_all")
	defer finish(http.StatusOK)

	account, ok := h.authenticate(w, r, finish)
	if !ok {
		return
	}

	count, err := h.server.RevokeAccountSessions(ctx, account.ID, h.clientIP(r))
	if err != nil {
		finish(h.writeError(w, r, err))
		return
	}

	h.clearRefreshCookie(w)
	h.writeJSON(w, http.StatusOK, map[string]any{"revoked": count})
}

// HandleMe returns the authenticated account.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	_, finish := h.startRequest(r, "me")
	defer finish(http.StatusOK)

	account, ok := h.authenticate(w, r, finish)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, accountResponse(account))
}

// ============================================================
// Provider endpoints
// ============================================================

// HandleProviderLogin redirects the browser into a provider's consent flow.
// An authenticated caller gets a link flow for their own account instead of
// a fresh login.
func (h *Handler) HandleProviderLogin(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "provider_login")
	defer finish(http.StatusFound)

	linkAccountID := ""
	if token := bearerToken(r); token != "" {
		account, _, err := h.server.Authenticate(ctx, token)
		if err != nil {
			finish(h.writeError(w, r, err))
			return
		}
		linkAccountID = account.ID
	}

	authURL, err := h.server.OAuthBegin(ctx, r.PathValue("provider"), linkAccountID, h.clientIP(r))
	if err != nil {
		finish(h.writeError(w, r, err))
		return
	}

	security.SetSecurityHeaders(w, h.server.config.PublicURL)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleProviderCallback finishes a provider flow: validates state, exchanges
// the code, resolves the account, sets the refresh cookie, and redirects back
// to the frontend. Provider errors surface as redirect query parameters so
// the browser lands somewhere useful.
func (h *Handler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "provider_callback")
	defer finish(http.StatusFound)

	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		h.redirectWithError(w, r, errCode)
		return
	}

	state := query.Get("state")
	code := query.Get("code")
	if state == "" || code == "" {
		h.redirectWithError(w, r, ErrorCodeCSRFStateInvalid)
		finish(http.StatusFound)
		return
	}

	pair, err := h.server.OAuthComplete(ctx, r.PathValue("provider"), state, code, h.clientIP(r))
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			h.redirectWithError(w, r, authErr.Code)
		} else {
			h.redirectWithError(w, r, ErrorCodeServerError)
		}
		finish(http.StatusFound)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	security.SetSecurityHeaders(w, h.server.config.PublicURL)
	http.Redirect(w, r, h.server.config.FrontendURL, http.StatusFound)
}

// HandleProviderDisconnect removes a linked provider from the authenticated
// account.
func (h *Handler) HandleProviderDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "provider_disconnect")
	defer finish(http.StatusNoContent)

	account, ok := h.authenticate(w, r, finish)
	if !ok {
		return
	}

	if err := h.server.DisconnectProvider(ctx, account.ID, r.PathValue("provider"), h.clientIP(r)); err != nil {
		finish(h.writeError(w, r, err))
		return
	}

	security.SetSecurityHeaders(w, h.server.config.PublicURL)
	w.WriteHeader(http.StatusNoContent)
}

// HandleProviderToken returns the decrypted provider credential for the
// authenticated account.
func (h *Handler) HandleProviderToken(w http.ResponseWriter, r *http.Request) {
	ctx, finish := h.startRequest(r, "provider_token")
	defer finish(http.StatusOK)

	account, ok := h.authenticate(w, r, finish)
	if !ok {
		return
	}

	tok, err := h.server.ProviderCredential(ctx, account.ID, r.PathValue("provider"))
	if err != nil {
		finish(h.writeError(w, r, err))
		return
	}

	resp := map[string]any{
		"access_token": tok.AccessToken,
		"scopes":       tok.Scopes,
	}
	if tok.Username != "" {
		resp["username"] = tok.Username
	}
	if !tok.ExpiresAt.IsZero() {
		resp["expires_at"] = tok.ExpiresAt.UTC().Format(time.RFC3339)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ============================================================
// Helpers
// ============================================================

// authenticate resolves the bearer token on a request. On failure it writes
// the error response and reports false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, finish func(int)) (*storage.Account, bool) {
	token := bearerToken(r)
	if token == "" {
		h.writeAuthError(w, r, NewAuthError(ErrorCodeTokenMalformed, "missing bearer token", http.StatusUnauthorized))
		finish(http.StatusUnauthorized)
		return nil, false
	}
	account, _, err := h.server.Authenticate(r.Context(), token)
	if err != nil {
		finish(h.writeError(w, r, err))
		return nil, false
	}
	return account, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}

// refreshTokenFromRequest prefers the cookie but accepts a JSON body field
// for non-browser clients.
func (h *Handler) refreshTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, rawToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    rawToken,
		Path:     refreshCookiePath,
		Domain:   h.server.config.Security.CookieDomain,
		MaxAge:   int(h.server.config.Tokens.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   *h.server.config.Security.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   h.server.config.Security.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   *h.server.config.Security.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clientIP(r *http.Request) string {
	rl := h.server.config.RateLimit
	return security.ClientIP(r, rl.TrustProxy, rl.TrustedProxyCount)
}

// allow checks a rate limiter and writes the 429 response when the request
// is over budget. A nil limiter allows everything.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, limiter *security.RateLimiter, limiterType, clientIP string) bool {
	if limiter == nil || limiter.Allow(clientIP) {
		return true
	}
	h.server.auditor.LogRateLimitExceeded(clientIP, "")
	if h.server.instr != nil {
		h.server.instr.Metrics().RecordRateLimitExceeded(r.Context(), limiterType)
	}
	w.Header().Set("Retry-After", "60")
	h.writeAuthError(w, r, ErrRateLimitExceeded())
	return false
}

type tokenResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int            `json:"expires_in"`
	Account     map[string]any `json:"account"`
}

func accountResponse(account *storage.Account) map[string]any {
	providers := make([]string, 0, len(account.Identities))
	for _, id := range account.Identities {
		providers = append(providers, id.Provider)
	}
	return map[string]any{
		"id":           account.ID,
		"email":        account.Email,
		"display_name": account.DisplayName,
		"avatar_url":   account.AvatarURL,
		"has_password": account.Credentials.HasPassword(),
		"providers":    providers,
		"created_at":   account.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, r *http.Request, pair *TokenPair, status int) {
	ttl := int(time.Until(pair.AccessExpiresAt) / time.Second)
	h.writeJSON(w, status, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   ttl,
		Account:     accountResponse(pair.Account),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.config.PublicURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps any error to its HTTP shape and returns the status used.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) int {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		h.logger.Error("unexpected handler error", "error", err)
		authErr = NewAuthError(ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
	}
	h.writeAuthError(w, r, authErr)
	return authErr.Status
}

func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, authErr *AuthError) {
	security.SetSecurityHeaders(w, h.server.config.PublicURL)
	if authErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             authErr.Code,
		"error_description": authErr.Description,
	})
}

// redirectWithError sends the browser back to the frontend with an error
// query parameter. Callback failures must not dead-end in a JSON page.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	security.SetSecurityHeaders(w, h.server.config.PublicURL)
	target := h.server.config.FrontendURL
	if u, err := url.Parse(target); err == nil {
		q := u.Query()
		q.Set("auth_error", code)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// startRequest opens the HTTP span and returns a finish func that records
// metrics once. endpoint is the logical route name, not the raw path.
func (h *Handler) startRequest(r *http.Request, endpoint string) (context.Context, func(int)) {
	ctx := r.Context()
	start := time.Now()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, fmt.Sprintf("auth.%s", endpoint),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String(instrumentation.AttrHTTPEndpoint, endpoint),
				attribute.String(instrumentation.AttrHTTPMethod, r.Method),
			),
		)
	}

	var once bool
	return ctx, func(status int) {
		if once {
			return
		}
		once = true
		if h.server.instr != nil {
			h.server.instr.Metrics().RecordHTTPRequest(ctx, r.Method, endpoint, status,
				float64(time.Since(start).Milliseconds()))
		}
		if span != nil {
			span.SetAttributes(attribute.Int(instrumentation.AttrHTTPStatusCode, status))
			if status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
	}
}
