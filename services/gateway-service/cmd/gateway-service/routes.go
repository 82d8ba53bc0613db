package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/auth"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	upstreamAuth      = "auth"
	upstreamDirectory = "directory"
	upstreamBooking   = "booking"
)

type guard int

const (
	public guard = iota
	signedIn
	adminOnly
)

type route struct {
	prefix   string
	upstream string
	guard    guard
}

// routeTable maps path prefixes to upstreams. ServeMux picks the longest match, so the
// directory roster routes win over the booking /api/admin/ catch-all.
var routeTable = []route{
	{"/api/user/register", upstreamAuth, public},
	{"/api/user/verify-otp", upstreamAuth, public},
	{"/api/user/resend-otp", upstreamAuth, public},
	{"/api/user/login", upstreamAuth, public},
	{"/api/user/token/refresh", upstreamAuth, public},
	{"/api/user/logout", upstreamAuth, public},
	{"/api/user/me", upstreamAuth, public},
	{"/api/user/profile", upstreamAuth, signedIn},
	{"/.well-known/jwks.json", upstreamAuth, public},

	{"/api/hospitals", upstreamDirectory, public},
	{"/api/doctors", upstreamDirectory, public},
	{"/api/specialties", upstreamDirectory, public},
	{"/api/search", upstreamDirectory, public},
	{"/api/predict-specialty", upstreamDirectory, public},
	{"/api/suggest-doctor", upstreamDirectory, public},
	{"/api/admin/my-doctors", upstreamDirectory, adminOnly},
	{"/api/admin/unassigned-doctors", upstreamDirectory, adminOnly},
	{"/api/admin/add-existing-doctor", upstreamDirectory, adminOnly},
	{"/api/admin/create-doctor", upstreamDirectory, adminOnly},
	{"/api/admin/doctors", upstreamDirectory, adminOnly},

	{"/api/available-slots", upstreamBooking, public},
	{"/api/book-appointment", upstreamBooking, signedIn},
	{"/api/my-appointments", upstreamBooking, signedIn},
	{"/api/cancel-appointment", upstreamBooking, signedIn},
	{"/api/initiate-payment", upstreamBooking, signedIn},
	{"/api/verify-payment", upstreamBooking, signedIn},
	{"/api/initiate-card-payment", upstreamBooking, signedIn},
	{"/api/hospital-appointments", upstreamBooking, adminOnly},
	{"/api/update-appointment-status", upstreamBooking, adminOnly},
	{"/api/admin", upstreamBooking, adminOnly},
	// Stripe reaches the webhook without a JWT; the signature is the authentication.
	{"/api/payments/webhooks/stripe", upstreamBooking, public},
}

var identityHeaders = []string{access.HeaderUserID, access.HeaderRole, access.HeaderHospitalID}

func registerRoutes(mux *http.ServeMux, upstreams map[string]string, verifier auth.Verifier, logger *slog.Logger) error {
	proxies := map[string]http.Handler{}
	transport := otelhttp.NewTransport(http.DefaultTransport)
	for name, raw := range upstreams {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstream %s: invalid url %q", name, raw)
		}
		proxy := httputil.NewSingleHostReverseProxy(u)
		proxy.Transport = transport
		proxies[name] = proxy
	}

	for _, rt := range routeTable {
		upstream, ok := proxies[rt.upstream]
		if !ok {
			return fmt.Errorf("route %s: no upstream %q", rt.prefix, rt.upstream)
		}
		var h http.Handler
		switch rt.guard {
		case adminOnly:
			h = requireAuth(requireRole(upstream, logger, auth.RoleHospitalAdmin, auth.RoleSuperuser), verifier, logger)
		case signedIn:
			h = requireAuth(upstream, verifier, logger)
		default:
			h = stripIdentity(upstream)
		}
		registerProxy(mux, rt.prefix, h)
	}
	return nil
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

// stripIdentity drops client supplied identity headers on unauthenticated routes.
func stripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range identityHeaders {
			r.Header.Del(h)
		}
		next.ServeHTTP(w, r)
	})
}

func requireAuth(next http.Handler, verifier auth.Verifier, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			httpx.WriteError(w, r, logger, apperr.Unauthorized("missing or invalid Authorization header"))
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			httpx.WriteError(w, r, logger, apperr.Unauthorized("invalid token"))
			return
		}

		for _, h := range identityHeaders {
			r.Header.Del(h)
		}
		r.Header.Set(access.HeaderUserID, claims.Subject)
		r.Header.Set(access.HeaderRole, claims.Role)
		if claims.HospitalID != 0 {
			r.Header.Set(access.HeaderHospitalID, strconv.FormatInt(claims.HospitalID, 10))
		}
		next.ServeHTTP(w, r)
	})
}

func requireRole(next http.Handler, logger *slog.Logger, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(access.HeaderRole)]; !ok {
			httpx.WriteError(w, r, logger, apperr.Forbidden("You are not authorized to perform this action."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// credentialRoutes accept passwords or OTPs and get a tighter per-IP budget.
var credentialRoutes = map[string]bool{
	"/api/user/login/":      true,
	"/api/user/register/":   true,
	"/api/user/verify-otp/": true,
	"/api/user/resend-otp/": true,
}

func authAttemptKey(r *http.Request) string {
	if r.Method != http.MethodPost || !credentialRoutes[r.URL.Path] {
		return ""
	}
	return httpx.ClientIP(r)
}
