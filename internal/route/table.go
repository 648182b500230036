// Package route provides the static route table of the BeatGate gateway.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

var (
	// ErrRouteNotFound is returned when no route pattern matches the request path.
	ErrRouteNotFound = errors.New("route not found")

	// ErrMethodNotAllowed is returned when the path matches but the method does not.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// MethodNotAllowedError carries the methods the matched path accepts.
type MethodNotAllowedError struct {
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method not allowed (allowed: %s)", strings.Join(e.Allowed, ", "))
}

// Is reports ErrMethodNotAllowed as the sentinel of this error.
func (e *MethodNotAllowedError) Is(target error) bool {
	return target == ErrMethodNotAllowed
}

// NotificationRule declares which backend outcomes trigger a notification call.
type NotificationRule struct {
	// URL is the notification endpoint that receives a plain POST.
	URL string `json:"url"`

	// Statuses is the set of backend status codes that trigger the call.
	Statuses []int `json:"statuses"`
}

// Triggers reports whether status is one of the rule's triggering codes.
func (r *NotificationRule) Triggers(status int) bool {
	if r == nil {
		return false
	}
	for _, s := range r.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Route maps a method set and path pattern to a backend target.
type Route struct {
	// Name identifies the route in logs and metrics.
	Name string `json:"name"`

	// Methods lists the accepted HTTP methods.
	Methods []string `json:"methods"`

	// Pattern is either an exact path or a mount point ending in "/*".
	Pattern string `json:"pattern"`

	// Target is the backend base URL (scheme and host, optional base path).
	Target string `json:"target"`

	// TargetPath replaces the pattern prefix on the forwarded path.
	// Empty means the inbound path is forwarded unchanged.
	TargetPath string `json:"targetPath,omitempty"`

	// Notify is the optional notification rule.
	Notify *NotificationRule `json:"notify,omitempty"`

	// RequiredPart names a multipart file part that must be present.
	RequiredPart string `json:"requiredPart,omitempty"`

	targetURL *url.URL
	prefix    string
	wildcard  bool
}

// TargetURL returns the parsed backend base URL.
func (r *Route) TargetURL() *url.URL {
	return r.targetURL
}

// AllowsMethod reports whether the route accepts method.
func (r *Route) AllowsMethod(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// match returns the path tail matched by the pattern.
func (r *Route) match(path string) (string, bool) {
	if !r.wildcard {
		return "", path == r.prefix
	}
	if !strings.HasPrefix(path, r.prefix+"/") {
		return "", false
	}
	tail := strings.TrimPrefix(path, r.prefix+"/")
	if tail == "" {
		return "", false
	}
	return tail, true
}

// forwardPath builds the backend path for a matched tail.
func (r *Route) forwardPath(path, tail string) string {
	if r.TargetPath == "" {
		return path
	}
	if !r.wildcard {
		return r.TargetPath
	}
	return strings.TrimSuffix(r.TargetPath, "/") + "/" + tail
}

// Match is the result of a successful resolution.
type Match struct {
	Route *Route

	// ForwardPath is the path to request on the backend.
	ForwardPath string
}

// Table is an immutable set of routes. It is safe for concurrent use.
type Table struct {
	routes []*Route
}

// New validates routes and returns a Table.
// Exact patterns are tried before wildcard ones; longer mounts win among wildcards.
func New(routes []Route) (*Table, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("route table cannot be empty")
	}

	compiled := make([]*Route, 0, len(routes))
	for i := range routes {
		r := routes[i]
		if err := compile(&r); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
		compiled = append(compiled, &r)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i], compiled[j]
		if a.wildcard != b.wildcard {
			return !a.wildcard
		}
		return len(a.prefix) > len(b.prefix)
	})

	return &Table{routes: compiled}, nil
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

func compile(r *Route) error {
	if r.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("pattern %q must start with /", r.Pattern)
	}
	if len(r.Methods) == 0 {
		return fmt.Errorf("at least one method is required")
	}
	r.Methods = append([]string(nil), r.Methods...)
	for i, m := range r.Methods {
		upper := strings.ToUpper(m)
		if !validMethods[upper] {
			return fmt.Errorf("invalid HTTP method %q", m)
		}
		r.Methods[i] = upper
	}

	target, err := url.Parse(r.Target)
	if err != nil {
		return fmt.Errorf("invalid target URL: %w", err)
	}
	if !target.IsAbs() || target.Host == "" {
		return fmt.Errorf("target %q must be an absolute URL", r.Target)
	}
	r.targetURL = target

	if r.Notify != nil {
		if len(r.Notify.Statuses) == 0 {
			return fmt.Errorf("notification rule needs at least one status")
		}
		u, err := url.Parse(r.Notify.URL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("notification URL %q must be an absolute URL", r.Notify.URL)
		}
	}

	if strings.HasSuffix(r.Pattern, "/*") {
		r.wildcard = true
		r.prefix = strings.TrimSuffix(r.Pattern, "/*")
	} else {
		r.prefix = r.Pattern
	}
	return nil
}

// Resolve finds the route for method and path. Method matching is exact and
// path is the escaped request path; ForwardPath keeps its escaping.
// It returns ErrRouteNotFound when no pattern matches, including for paths that
// are not in canonical form, and a *MethodNotAllowedError when at least one
// pattern matches but none accepts the method.
func (t *Table) Resolve(method, path string) (Match, error) {
	if !canonical(path) {
		return Match{}, ErrRouteNotFound
	}

	var allowed []string
	seen := make(map[string]bool)

	for _, r := range t.routes {
		tail, ok := r.match(path)
		if !ok {
			continue
		}
		if r.AllowsMethod(method) {
			return Match{Route: r, ForwardPath: r.forwardPath(path, tail)}, nil
		}
		for _, m := range r.Methods {
			if !seen[m] {
				seen[m] = true
				allowed = append(allowed, m)
			}
		}
	}

	if len(allowed) > 0 {
		sort.Strings(allowed)
		return Match{}, &MethodNotAllowedError{Allowed: allowed}
	}
	return Match{}, ErrRouteNotFound
}

// canonical reports whether the decoded form of escaped is an absolute path
// without dot segments or empty segments. A single trailing slash is allowed.
func canonical(escaped string) bool {
	p, err := url.PathUnescape(escaped)
	if err != nil || !strings.HasPrefix(p, "/") {
		return false
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return path.Clean(p) == p
}

// Routes returns the compiled routes in resolution order.
func (t *Table) Routes() []*Route {
	return t.routes
}
