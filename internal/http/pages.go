package httpserver

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/session"
)

// Pages are rendered by the web client; the server only provides shells
// so that gate redirects land somewhere real.
var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>{{.Title}} · BiteBox</title></head>
<body data-page="{{.Name}}"{{if .UserID}} data-user="{{.UserID}}"{{end}}>
<main><h1>{{.Title}}</h1>{{if .Message}}<p>{{.Message}}</p>{{end}}</main>
</body>
</html>
`))

type pageData struct {
	Name    string
	Title   string
	Message string
	UserID  string
}

type page struct {
	path    string
	name    string
	title   string
	message string
}

var pages = []page{
	{"/", "home", "BiteBox", ""},
	{"/home", "home", "BiteBox", ""},
	{"/login", "login", "Log in", ""},
	{"/signup", "signup", "Sign up", ""},
	{"/reset-password", "reset-password", "Reset password", ""},
	{"/confirm", "confirm", "Confirm your email", ""},
	{"/forgot-password", "forgot-password", "Forgot password", ""},
	{"/desktop-notice", "desktop-notice", "BiteBox is built for your phone", "Open this page on a mobile device to rate restaurants."},
	{"/restaurants/{id}", "restaurant", "Restaurant", ""},
	{"/profile", "profile", "Your profile", ""},
	{"/admin", "admin", "Administration", ""},
	{"/admin/restaurants", "admin-restaurants", "Manage restaurants", ""},
}

func (s *Server) registerPages(r chi.Router) {
	for _, p := range pages {
		r.Get(p.path, s.pageHandler(p))
	}
}

func (s *Server) pageHandler(p page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{Name: p.name, Title: p.title, Message: p.message}
		if user := session.UserFromContext(r.Context()); user != nil {
			data.UserID = user.ID
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(w, data); err != nil {
			s.logger.Warn("render page failed", zap.String("page", p.name), zap.Error(err))
		}
	}
}
