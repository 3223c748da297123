// Package handler contains the HTTP handlers for the marketing site and the
// dashboard API.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc, a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, headers)
// 2. Call the service layer (or, for the marketing pages, render a template)
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers should NOT contain business logic. They are the "glue" between HTTP and the services.
package handler

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/sakif/creatorhub/internal/auth"
)

// Pages served by PageHandler. Each has a <name>.html template that
// defines "content" for base.html.
var pageNames = []string{"landing", "pricing", "faq", "privacy", "dashboard"}

// Plan is one card on the pricing page.
type Plan struct {
	Name     string
	Price    int // USD per month
	Credits  int // searches per month
	Features []string
}

// FAQ is one question on the FAQ page.
type FAQ struct {
	Question string
	Answer   string
}

var plans = []Plan{
	{Name: "Starter", Price: 29, Credits: 50, Features: []string{"Twitch and YouTube search", "CRM with 500 leads", "1 email sequence"}},
	{Name: "Growth", Price: 79, Credits: 250, Features: []string{"Everything in Starter", "Unlimited leads", "10 email sequences", "Saved filters"}},
	{Name: "Agency", Price: 199, Credits: 1000, Features: []string{"Everything in Growth", "Unlimited sequences", "Priority scraping"}},
}

var faqs = []FAQ{
	{"What is a credit?", "Every discovery search costs one credit. Searches the scraper rejects are refunded automatically."},
	{"Where do creator emails come from?", "Only from what creators publish on their channel pages and linked socials."},
	{"When are sequence emails sent?", "Each step goes out after its delay, counted from the day the lead was enrolled. A creator who replies is never emailed again by that sequence."},
	{"Can I stop a sequence?", "Yes. Pause a lead at any time and resume it later from the step it stopped on."},
}

// PageHandler renders the server-side HTML pages.
// It holds parsed templates so we don't re-parse them on every request.
type PageHandler struct {
	templates     map[string]*template.Template
	googleEnabled bool
	logger        *slog.Logger
}

// NewPageHandler parses base.html once per page.
//
// TEMPLATE PARSING:
// Every page defines {{define "content"}}, so each page gets its own
// template set: base.html + that page. Parsing them all into one set would
// make the last "content" win.
func NewPageHandler(templateDir string, googleEnabled bool, logger *slog.Logger) (*PageHandler, error) {
	templates := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFiles(
			filepath.Join(templateDir, "base.html"),
			filepath.Join(templateDir, name+".html"),
		)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		templates[name] = tmpl
	}

	return &PageHandler{
		templates:     templates,
		googleEnabled: googleEnabled,
		logger:        logger,
	}, nil
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, name, title string, extra map[string]any) {
	_, loggedIn := auth.UserIDFromContext(r.Context())
	data := map[string]any{
		"Title":         title,
		"Page":          name,
		"LoggedIn":      loggedIn,
		"GoogleEnabled": h.googleEnabled,
	}
	for k, v := range extra {
		data[k] = v
	}

	// Set content type header BEFORE writing the body
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := h.templates[name].ExecuteTemplate(w, "base", data); err != nil {
		h.logger.Error("failed to render template",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// HandleLanding serves GET /.
func (h *PageHandler) HandleLanding(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "landing", "CreatorHub: find creators, fill your pipeline", nil)
}

// HandlePricing serves GET /pricing.
func (h *PageHandler) HandlePricing(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pricing", "Pricing | CreatorHub", map[string]any{"Plans": plans})
}

// HandleFAQ serves GET /faq.
func (h *PageHandler) HandleFAQ(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "faq", "FAQ | CreatorHub", map[string]any{"FAQs": faqs})
}

// HandlePrivacy serves GET /privacy.
func (h *PageHandler) HandlePrivacy(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "privacy", "Privacy policy | CreatorHub", nil)
}

// HandleDashboard serves the dashboard shell. Anonymous visitors are sent
// to the landing page to log in.
func (h *PageHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); !ok {
		http.Redirect(w, r, "/?auth=required", http.StatusSeeOther)
		return
	}
	h.render(w, r, "dashboard", "Dashboard | CreatorHub", nil)
}
