package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"unicode"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Message is a rendered email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Renderer builds messages for events.
type Renderer struct {
	AppName    string
	PostURLFmt string // e.g. "https://blog.example.com/posts/%d"; empty disables links
}

func (r Renderer) Render(e Event) (Message, error) {
	switch e.Kind {
	case UserRegistered:
		if e.User == nil {
			return Message{}, fmt.Errorf("%s event without user", e.Kind)
		}
		return r.render("user_registered.html", e.User.Email,
			"Welcome to "+r.AppName,
			map[string]string{"Name": e.User.Name, "Email": e.User.Email, "App": r.AppName})

	case PostCreated:
		if e.Post == nil || e.Post.Author == nil {
			return Message{}, fmt.Errorf("%s event without post author", e.Kind)
		}
		url := ""
		if r.PostURLFmt != "" {
			url = fmt.Sprintf(r.PostURLFmt, e.Post.ID)
		}
		return r.render("post_created.html", e.Post.Author.Email,
			"Your post \""+e.Post.Title+"\" was created",
			map[string]string{
				"Name":   e.Post.Author.Name,
				"Title":  e.Post.Title,
				"Status": string(e.Post.Status),
				"URL":    url,
			})
	}
	return Message{}, fmt.Errorf("no template for event %q", e.Kind)
}

func (r Renderer) render(name, to, subject string, data any) (Message, error) {
	if strings.TrimSpace(to) == "" {
		return Message{}, fmt.Errorf("render %s: empty recipient", name)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{To: []string{to}, Subject: headerValue(subject), HTML: buf.String()}, nil
}

// headerValue replaces control characters with spaces so a value taken from
// user input cannot start a new mail header.
func headerValue(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}
