package rbac

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIPrefix marks routes that match by path prefix.
const APIPrefix = "/api/"

// MatchKind records how a route decision was reached.
type MatchKind string

// Match kinds in evaluation order.
const (
	MatchNone     MatchKind = ""
	MatchExact    MatchKind = "exact"
	MatchWildcard MatchKind = "wildcard"
	MatchPrefix   MatchKind = "prefix"
)

// RouteRule maps a path pattern to the permissions that unlock it. Holding
// any one of the permissions grants access.
type RouteRule struct {
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// RouteDecision is the outcome of resolving a path. Unprotected decisions
// are the explicit fail-open default for undeclared routes.
type RouteDecision struct {
	Protected   bool
	Pattern     string
	Permissions []string
	Match       MatchKind
}

// Unprotected is the decision for paths absent from the table.
var Unprotected = RouteDecision{}

// RouteTable resolves paths to required permission sets.
type RouteTable struct {
	exact    map[string]RouteRule
	wildcard []RouteRule
	prefix   []RouteRule
	rules    []RouteRule
}

// ErrInvalidRoute reports a malformed route rule.
var ErrInvalidRoute = errors.New("rbac: invalid route rule")

// NewRouteTable validates rules and builds a table.
func NewRouteTable(rules []RouteRule) (*RouteTable, error) {
	t := &RouteTable{exact: make(map[string]RouteRule, len(rules))}
	for _, rule := range rules {
		rule.Pattern = strings.TrimSpace(rule.Pattern)
		if !strings.HasPrefix(rule.Pattern, "/") {
			return nil, fmt.Errorf("%w: pattern %q must start with /", ErrInvalidRoute, rule.Pattern)
		}
		if len(rule.Permissions) == 0 {
			return nil, fmt.Errorf("%w: pattern %q has no permissions", ErrInvalidRoute, rule.Pattern)
		}
		for _, perm := range rule.Permissions {
			if _, _, _, ok := SplitPermission(perm); !ok {
				return nil, fmt.Errorf("%w: pattern %q permission %q", ErrInvalidRoute, rule.Pattern, perm)
			}
		}
		t.rules = append(t.rules, rule)
		switch {
		case strings.HasSuffix(rule.Pattern, "/*"):
			t.wildcard = append(t.wildcard, rule)
		case strings.HasPrefix(rule.Pattern, APIPrefix):
			t.exact[rule.Pattern] = rule
			t.prefix = append(t.prefix, rule)
		default:
			t.exact[rule.Pattern] = rule
		}
	}
	longestFirst(t.wildcard)
	longestFirst(t.prefix)
	return t, nil
}

func longestFirst(rules []RouteRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Pattern) > len(rules[j].Pattern)
	})
}

// Resolve finds the rule governing path: exact match, then wildcard suffix,
// then API prefix. No match yields Unprotected.
func (t *RouteTable) Resolve(path string) RouteDecision {
	if t == nil {
		return Unprotected
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if rule, ok := t.exact[path]; ok {
		return decision(rule, MatchExact)
	}
	for _, rule := range t.wildcard {
		base := strings.TrimSuffix(rule.Pattern, "*")
		if strings.HasPrefix(path, base) {
			return decision(rule, MatchWildcard)
		}
	}
	if strings.HasPrefix(path, APIPrefix) {
		for _, rule := range t.prefix {
			if strings.HasPrefix(path, rule.Pattern+"/") {
				return decision(rule, MatchPrefix)
			}
		}
	}
	return Unprotected
}

// Allows reports whether role may reach path.
func (t *RouteTable) Allows(role Role, path string) bool {
	d := t.Resolve(path)
	if !d.Protected {
		return true
	}
	return HasAnyPermission(role, d.Permissions)
}

// Rules returns a copy of the configured rules in declaration order.
func (t *RouteTable) Rules() []RouteRule {
	if t == nil {
		return nil
	}
	out := make([]RouteRule, len(t.rules))
	copy(out, t.rules)
	return out
}

func decision(rule RouteRule, kind MatchKind) RouteDecision {
	perms := make([]string, len(rule.Permissions))
	copy(perms, rule.Permissions)
	return RouteDecision{Protected: true, Pattern: rule.Pattern, Permissions: perms, Match: kind}
}

type routeFile struct {
	Routes []RouteRule `yaml:"routes"`
}

// LoadRouteTable parses a YAML document of the form
//
//	routes:
//	  - pattern: /admin/*
//	    permissions: [user:read:org]
func LoadRouteTable(r io.Reader) (*RouteTable, error) {
	var doc routeFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("rbac: decode route table: %w", err)
	}
	return NewRouteTable(doc.Routes)
}

// LoadRouteTableFile reads a YAML route table from path. An empty path
// returns the default table.
func LoadRouteTableFile(path string) (*RouteTable, error) {
	if path == "" {
		return DefaultRouteTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: open route table: %w", err)
	}
	defer f.Close()
	return LoadRouteTable(f)
}

// DefaultRoutes is the built-in route protection table.
func DefaultRoutes() []RouteRule {
	return []RouteRule{
		{Pattern: "/admin", Permissions: []string{PermUserReadOrg}},
		{Pattern: "/admin/*", Permissions: []string{PermUserReadOrg}},
		{Pattern: "/admin/system/*", Permissions: []string{PermSecurityReadAll}},
		{Pattern: "/surveys/new", Permissions: []string{PermSurveyCreateOwn}},
		{Pattern: "/analytics", Permissions: []string{PermAnalyticsReadOrg}},
		{Pattern: "/analytics/*", Permissions: []string{PermAnalyticsReadOrg}},
		{Pattern: "/api/admin", Permissions: []string{PermUserReadOrg}},
		{Pattern: "/api/admin/system", Permissions: []string{PermSecurityReadAll}},
		{Pattern: "/api/export", Permissions: []string{PermExportCreateOwn, PermExportCreateOrg, PermExportCreateAll}},
		{Pattern: "/api/llm", Permissions: []string{PermLLMUseOwn}},
		{Pattern: "/api/llm/org", Permissions: []string{PermLLMUseOrg}},
		{Pattern: "/api/analytics", Permissions: []string{PermAnalyticsReadOrg}},
		{Pattern: "/api/security", Permissions: []string{PermSecurityReadAll}},
	}
}

var defaultTable = mustTable(DefaultRoutes())

// DefaultRouteTable returns the built-in table.
func DefaultRouteTable() *RouteTable {
	return defaultTable
}

func mustTable(rules []RouteRule) *RouteTable {
	t, err := NewRouteTable(rules)
	if err != nil {
		panic(err)
	}
	return t
}
