package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DeviceCookieName is the cookie identifying an anonymous device
const DeviceCookieName = "wa_device"

const deviceCookieMaxAge = 365 * 24 * time.Hour

type contextKey string

const deviceIDKey contextKey = "device_id"

// DeviceMiddleware ensures every request carries a device id, issuing a cookie when missing
func DeviceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var deviceID string
		if cookie, err := r.Cookie(DeviceCookieName); err == nil && cookie.Value != "" {
			deviceID = cookie.Value
		} else {
			deviceID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     DeviceCookieName,
				Value:    deviceID,
				Path:     "/",
				MaxAge:   int(deviceCookieMaxAge.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), deviceID)))
	})
}

// WithDeviceID returns a context carrying the device id
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// DeviceID returns the device id stored by DeviceMiddleware
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceIDKey).(string)
	return id
}

// CORSMiddleware adds CORS headers for frontend access
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
