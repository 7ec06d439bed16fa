package sentry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/subculture-collective/botengine/config"
)

// Init initializes Sentry SDK with the given configuration
func Init(cfg *config.SentryConfig) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: cfg.TracesSampleRate,
		// Attach stack traces to messages
		AttachStacktrace: true,
		// Before sending events, scrub sensitive data
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return scrubSensitiveData(event)
		},
		SampleRate: 1.0,
	})

	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	return nil
}

// Close flushes any buffered events and shuts down Sentry
func Close() {
	sentry.Flush(2 * time.Second)
}

// scrubSensitiveData removes or masks PII from Sentry events. Detection
// events carry request metadata whose raw IP and user agent must never
// leave the process, so both are stripped wholesale rather than masked.
func scrubSensitiveData(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
			delete(event.Request.Headers, "User-Agent")
			delete(event.Request.Headers, "X-Forwarded-For")
			delete(event.Request.Headers, "X-Real-Ip")
		}

		// Query strings may carry probe payloads worth keeping, but they
		// may also carry tokens; drop them.
		if event.Request.QueryString != "" {
			event.Request.QueryString = "[REDACTED]"
		}
	}

	// The engine has no user identity beyond the visitor signature; any
	// user block that leaks in from middleware is reduced to a hash.
	if event.User.ID != "" {
		event.User.ID = hashID(event.User.ID)
	}
	event.User.Email = ""
	event.User.Username = ""
	event.User.IPAddress = ""

	// Remove breadcrumbs that might contain sensitive data
	filteredBreadcrumbs := make([]*sentry.Breadcrumb, 0, len(event.Breadcrumbs))
	for _, bc := range event.Breadcrumbs {
		if bc.Data != nil {
			delete(bc.Data, "client_ip")
			delete(bc.Data, "user_agent")
			delete(bc.Data, "password")
			delete(bc.Data, "token")
			delete(bc.Data, "secret")
			delete(bc.Data, "api_key")
		}
		filteredBreadcrumbs = append(filteredBreadcrumbs, bc)
	}
	event.Breadcrumbs = filteredBreadcrumbs

	return event
}

// hashID creates a short SHA-256 hash of an identifier for privacy
func hashID(id string) string {
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:8])
}

// SetSignatureTag tags the current scope with a visitor signature. The
// signature is already an HMAC, but it is truncated anyway so a Sentry
// breach can't be joined against the engine's own stores.
func SetSignatureTag(c *gin.Context, signature string) {
	if signature == "" {
		return
	}
	if len(signature) > 16 {
		signature = signature[:16]
	}
	SetTag(c, "visitor_signature", signature)
}

// SetTag sets a tag for Sentry context
func SetTag(c *gin.Context, key, value string) {
	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag(key, value)
		})
	}
}

// SetContext sets additional context for Sentry
func SetContext(c *gin.Context, key string, data map[string]interface{}) {
	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetContext(key, data)
		})
	}
}

// CaptureException captures an exception and sends it to Sentry
func CaptureException(c *gin.Context, err error) {
	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

// CaptureMessage captures a message and sends it to Sentry
func CaptureMessage(c *gin.Context, message string) {
	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
		hub.CaptureMessage(message)
	}
}

// CapturePanic reports a recovered panic from outside any HTTP context,
// used by the orchestrator's top-level recover hook.
func CapturePanic(requestID string, recovered any) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("request_id", requestID)
		sentry.CaptureMessage(fmt.Sprintf("recovered panic in detection pipeline: %v", recovered))
	})
}
