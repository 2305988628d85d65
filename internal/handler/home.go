package handler

import (
	"log/slog"
	"net/http"

	"github.com/visionplus/visionplus/internal/auth"
	"github.com/visionplus/visionplus/internal/csrf"
	"github.com/visionplus/visionplus/internal/identity"
)

// HomeHandler serves the home page for both signed-in and anonymous
// visitors.
type HomeHandler struct {
	renderer TemplateRenderer
	logger   *slog.Logger
	isSecure bool
}

// NewHomeHandler creates a new HomeHandler.
func NewHomeHandler(renderer TemplateRenderer, logger *slog.Logger, isSecure bool) *HomeHandler {
	return &HomeHandler{
		renderer: renderer,
		logger:   logger,
		isSecure: isSecure,
	}
}

// HomePageData contains data for the home page template.
type HomePageData struct {
	CurrentPath string
	CSRFToken   string // for the logout form
	SignedIn    bool
	DisplayName string // username shown in the greeting, may be empty
}

// Home renders the home page. Signed-in users get a greeting with their
// username; the metadata username wins over the one recovered from the
// account email. Anonymous visitors get links to login and signup.
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	// The mux "/" pattern matches everything without a better route.
	if r.URL.Path != "/" {
		NotFoundResponse(w, r, h.logger)
		return
	}

	data := HomePageData{
		CurrentPath: r.URL.Path,
	}

	if user := auth.GetUser(r.Context()); user != nil {
		data.SignedIn = true
		data.CSRFToken = csrf.EnsureToken(w, r, h.isSecure)
		if name, ok := identity.DisplayUsername(user.Metadata, user.Email); ok {
			data.DisplayName = name
		}
	}

	h.renderer.RenderHTTP(w, "public/home", data)
}
