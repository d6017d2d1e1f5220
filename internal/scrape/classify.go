package scrape

import (
	"net/http"
	"strings"
)

// Page is the outcome of one browser navigation.
type Page struct {
	URL    string
	Status int
	Title  string
	HTML   string
}

// Markers holds the page fragments used to recognise non-content responses.
type Markers struct {
	Challenge []string
	RateLimit []string
	LoggedOut []string
	PostList  string
}

// DefaultMarkers matches the source site's interstitial and login pages.
func DefaultMarkers() Markers {
	return Markers{
		Challenge: []string{"just a moment", "checking your browser"},
		RateLimit: []string{"429"},
		LoggedOut: []string{"Вход на сайт"},
		PostList:  "posts-list",
	}
}

// Classifier maps a loaded page onto a failure kind.
type Classifier struct {
	markers Markers
}

// NewClassifier creates a classifier, filling unset markers with defaults.
func NewClassifier(m Markers) *Classifier {
	def := DefaultMarkers()
	if len(m.Challenge) == 0 {
		m.Challenge = def.Challenge
	}
	if len(m.RateLimit) == 0 {
		m.RateLimit = def.RateLimit
	}
	if len(m.LoggedOut) == 0 {
		m.LoggedOut = def.LoggedOut
	}
	if m.PostList == "" {
		m.PostList = def.PostList
	}
	return &Classifier{markers: m}
}

// Classify returns KindNone for a usable page, otherwise the failure kind.
// Challenge titles win over the status because interstitials are usually
// served as 403 or 503; the logged-out check runs last.
func (c *Classifier) Classify(p Page) Kind {
	title := strings.ToLower(p.Title)
	for _, marker := range c.markers.Challenge {
		if strings.Contains(title, strings.ToLower(marker)) {
			return ScrapeBlocked
		}
	}

	switch {
	case p.Status == http.StatusNotFound:
		return ChannelNotFound
	case p.Status == http.StatusTooManyRequests:
		return RateLimited
	case p.Status != 0 && p.Status != http.StatusOK:
		return ScrapeFailed
	}

	for _, marker := range c.markers.RateLimit {
		if strings.Contains(title, strings.ToLower(marker)) {
			return RateLimited
		}
	}
	if c.loggedOut(p.HTML) {
		return Unauthenticated
	}
	return KindNone
}

// loggedOut treats a page as unauthenticated only when it shows the login
// affordance and lacks the post list, so a public page still parses.
func (c *Classifier) loggedOut(html string) bool {
	if html == "" || strings.Contains(html, c.markers.PostList) {
		return false
	}
	for _, marker := range c.markers.LoggedOut {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}
