package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		SendDefaultPII:   false,
	})
}

// CaptureRequestError reports err with the request method and path attached.
// Headers and bodies are not attached; they may carry credentials.
func CaptureRequestError(r *http.Request, err error) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if r != nil {
			scope.SetTag("http.method", r.Method)
			scope.SetTag("http.path", r.URL.Path)
		}
		sentry.CaptureException(err)
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
