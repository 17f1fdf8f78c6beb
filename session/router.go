package session

import "strings"

// Route is a navigation target.
type Route string

const (
	RouteLogin     Route = "/login"
	RouteDashboard Route = "/dashboard"
)

// Resolve maps a requested path to the route that should be shown, applying
// the guard: protected routes fall back to the login page when the session
// is not authenticated, "/" redirects to the dashboard, and unknown paths go
// to the login page.
func Resolve(path string, s *Session) Route {
	path = strings.TrimSpace(path)
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	switch path {
	case string(RouteLogin):
		return RouteLogin
	case string(RouteDashboard), "/":
		if s != nil && s.Authenticated() {
			return RouteDashboard
		}
		return RouteLogin
	default:
		return RouteLogin
	}
}
