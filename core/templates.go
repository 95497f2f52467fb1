package core

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

// LoadTemplates parses the embedded page templates.
func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(templatesFS, "templates/*.html")
}

// renderPage renders name with the data every page needs: title, current
// user, CSRF token and pending flash messages. Flashes are consumed, so the
// cookie session is saved before the body is written.
func renderPage(c *gin.Context, status int, name, title string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	for _, k := range []string{"Error", "Username"} {
		if _, ok := data[k]; !ok {
			data[k] = ""
		}
	}
	data["Title"] = title
	if user, ok := UserFromContext(c); ok {
		data["User"] = &user
	}
	data["CSRFToken"] = c.GetString(csrfTokenKey)

	var flashes []string
	if sess := cookieSession(c); sess != nil {
		for _, f := range sess.Flashes() {
			if s, ok := f.(string); ok {
				flashes = append(flashes, s)
			}
		}
		_ = sess.Save(c.Request, c.Writer)
	}
	data["Flashes"] = flashes

	c.HTML(status, name, data)
}

// renderFormPage re-renders the login or register form with an error message.
func renderFormPage(c *gin.Context, status int, name, message string) {
	title := "Login"
	if name == "register.html" {
		title = "Register"
	}
	renderPage(c, status, name, title, gin.H{
		"Error":    message,
		"Username": normalizeUsername(c.PostForm("username")),
	})
}

func formTemplateFor(path string) string {
	if path == "/register" {
		return "register.html"
	}
	return "login.html"
}

func renderError(c *gin.Context, status int, message string) {
	renderPage(c, status, "error.html", http.StatusText(status), gin.H{"Error": message})
}
