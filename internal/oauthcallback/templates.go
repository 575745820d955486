package oauthcallback

import (
	"html/template"
	"log"
	"net/http"
)

var successTemplate = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head><title>Signed in</title><meta charset="utf-8"></head>
<body style="font-family: -apple-system, sans-serif; max-width: 32rem; margin: 4rem auto;">
  <h1>You're signed in, {{.Username}}.</h1>
  <p>Your gitflow-mcp user id is:</p>
  <p><code style="font-size: 1.1rem;">{{.UserID}}</code></p>
  <p>Keep this id — your MCP client needs it to call tools on your behalf.</p>
  <p>You can close this tab.</p>
</body>
</html>`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title><meta charset="utf-8"></head>
<body style="font-family: -apple-system, sans-serif; max-width: 32rem; margin: 4rem auto;">
  <h1>{{.Title}}</h1>
  <p>{{.Message}}</p>
</body>
</html>`))

type successPage struct {
	Username string
	UserID   string
}

type errorPage struct {
	Title   string
	Message string
}

func renderSuccess(w http.ResponseWriter, username, userID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := successTemplate.Execute(w, successPage{Username: username, UserID: userID}); err != nil {
		log.Printf("oauthcallback: render success page: %v", err)
	}
}

func renderError(w http.ResponseWriter, status int, title, message string) {
	if message == "" {
		message = "Something went wrong. Please try again."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorTemplate.Execute(w, errorPage{Title: title, Message: message}); err != nil {
		log.Printf("oauthcallback: render error page: %v", err)
	}
}
