package human

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/atotto/clipboard"
	"github.com/go-chi/chi/v5"

	"github.com/entrhq/sitebridge/pkg/logging"
)

var promptPage = template.Must(template.New("prompt").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Action needed</title></head>
<body>
<h1>Action needed: {{.AdapterID}}</h1>
<p>{{.Prompt}}</p>
{{if .PageURL}}<p><a href="{{.PageURL}}">{{.PageURL}}</a></p>{{end}}
<p>Expires {{.Deadline.Format "15:04:05"}}</p>
<form method="post" action="/done?id={{.ID}}"><button type="submit">Done</button></form>
</body>
</html>`))

// Listener presents each request on a throwaway local HTTP listener that
// accepts one acknowledgment and then shuts down.
type Listener struct {
	// Addr to bind, default 127.0.0.1:0.
	Addr string
	// CopyURL copies the acknowledgment URL to the clipboard.
	CopyURL bool
	// OnURL is told where the request can be acknowledged.
	OnURL func(req Request, url string)

	Log *logging.Logger
}

// Present implements Presenter.
func (l *Listener) Present(_ context.Context, req Request, complete func() error) (Presentation, error) {
	addr := l.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Presentation{}, fmt.Errorf("listen for human acknowledgment: %w", err)
	}

	srv := &http.Server{
		Handler:           l.routes(req, complete),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log().Errorf("human listener for %s: %v", req.ID, err)
		}
	}()

	ackURL := fmt.Sprintf("http://%s/?id=%s", ln.Addr().String(), url.QueryEscape(req.ID))
	if l.CopyURL {
		if err := clipboard.WriteAll(ackURL); err != nil {
			l.log().Warnf("could not copy %s to clipboard: %v", ackURL, err)
		}
	}
	if l.OnURL != nil {
		l.OnURL(req, ackURL)
	}
	l.log().Infof("human request %s listening on %s", req.ID, ackURL)

	return Presentation{
		URL: ackURL,
		Stop: func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		},
	}, nil
}

func (l *Listener) routes(req Request, complete func() error) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != req.ID {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = promptPage.Execute(w, req)
	})
	r.Post("/done", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != req.ID {
			http.NotFound(w, r)
			return
		}
		if err := complete(); err != nil {
			http.Error(w, err.Error(), http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Thanks, you can close this tab."))
	})
	return r
}

func (l *Listener) log() *logging.Logger {
	if l.Log == nil {
		return logging.Nop()
	}
	return l.Log
}
