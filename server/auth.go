package server

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	sessionCookie = "tracesdl_session"
	stateCookie   = "tracesdl_oauth_state"
	sessionTTL    = 12 * time.Hour

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// authenticator implements Google login with an HMAC signed session cookie
type authenticator struct {
	conf          *oauth2.Config
	secret        []byte
	allowedDomain string
	userInfoURL   string
	now           func() time.Time
}

func newAuthenticator(clientID, clientSecret, redirectURL, secret, allowedDomain string) (*authenticator, error) {
	if secret == "" {
		return nil, errors.New("SECRET_KEY must be set when Google login is enabled")
	}
	return &authenticator{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email"},
		},
		secret:        []byte(secret),
		allowedDomain: strings.ToLower(allowedDomain),
		userInfoURL:   googleUserInfoURL,
		now:           time.Now,
	}, nil
}

func (a *authenticator) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// sessionValue encodes email and expiry as base64(email|unix).signature
func (a *authenticator) sessionValue(email string) string {
	payload := email + "|" + strconv.FormatInt(a.now().Add(sessionTTL).Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + a.sign(payload)
}

// user returns the logged in email, or "" without a valid session
func (a *authenticator) user(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	encoded, sig, ok := strings.Cut(c.Value, ".")
	if !ok {
		return ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	payload := string(raw)
	if !hmac.Equal([]byte(sig), []byte(a.sign(payload))) {
		return ""
	}
	email, exp, ok := strings.Cut(payload, "|")
	if !ok {
		return ""
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || a.now().Unix() > expiry {
		return ""
	}
	return email
}

func (a *authenticator) handleLogin(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.conf.AuthCodeURL(state), http.StatusFound)
}

func (a *authenticator) handleCallback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != r.URL.Query().Get("state") {
		http.Error(w, "invalid login state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	tok, err := a.conf.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "login failed", http.StatusUnauthorized)
		return
	}
	email, err := a.fetchEmail(r.Context(), tok)
	if err != nil {
		http.Error(w, "login failed", http.StatusUnauthorized)
		return
	}
	if !a.allowed(email) {
		http.Error(w, "account not allowed", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    a.sessionValue(email),
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *authenticator) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *authenticator) fetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	resp, err := a.conf.Client(ctx, tok).Get(a.userInfoURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %s", resp.Status)
	}

	var info struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.Email == "" || !info.EmailVerified {
		return "", errors.New("no verified email")
	}
	return info.Email, nil
}

func (a *authenticator) allowed(email string) bool {
	if a.allowedDomain == "" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(email), "@"+a.allowedDomain)
}

// require redirects browsers to the login page and rejects API calls
// without a session
func (a *authenticator) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login", "/auth", "/logout", "/healthz":
			next.ServeHTTP(w, r)
			return
		}
		if a.user(r) != "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet && r.URL.Path == "/" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		writeError(w, http.StatusUnauthorized, "login required")
	})
}
