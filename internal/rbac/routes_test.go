package rbac

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrecedence(t *testing.T) {
	table, err := NewRouteTable([]RouteRule{
		{Pattern: "/admin", Permissions: []string{PermUserReadOrg}},
		{Pattern: "/admin/*", Permissions: []string{PermUserEditOrg}},
		{Pattern: "/admin/system/*", Permissions: []string{PermSecurityReadAll}},
		{Pattern: "/api/llm", Permissions: []string{PermLLMUseOwn}},
		{Pattern: "/api/llm/org", Permissions: []string{PermLLMUseOrg}},
	})
	require.NoError(t, err)

	cases := []struct {
		path    string
		pattern string
		match   MatchKind
	}{
		{path: "/admin", pattern: "/admin", match: MatchExact},
		{path: "/admin/", pattern: "/admin", match: MatchExact},
		{path: "/admin/users", pattern: "/admin/*", match: MatchWildcard},
		{path: "/admin/system/audit", pattern: "/admin/system/*", match: MatchWildcard},
		{path: "/api/llm", pattern: "/api/llm", match: MatchExact},
		{path: "/api/llm/chat", pattern: "/api/llm", match: MatchPrefix},
		{path: "/api/llm/org/summarise", pattern: "/api/llm/org", match: MatchPrefix},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			d := table.Resolve(tc.path)
			require.True(t, d.Protected)
			assert.Equal(t, tc.pattern, d.Pattern)
			assert.Equal(t, tc.match, d.Match)
		})
	}
}

func TestResolveFailsOpenForUndeclaredRoutes(t *testing.T) {
	table := DefaultRouteTable()
	for _, path := range []string{"/", "/surveys", "/api/llmx", "/administrator", "/api/public/ping"} {
		d := table.Resolve(path)
		assert.False(t, d.Protected, path)
		assert.Equal(t, Unprotected, d, path)
		assert.True(t, table.Allows(Role("ghost"), path), path)
	}
}

func TestNilTableIsUnprotected(t *testing.T) {
	var table *RouteTable
	assert.Equal(t, Unprotected, table.Resolve("/admin"))
	assert.Nil(t, table.Rules())
}

func TestNewRouteTableRejectsInvalidRules(t *testing.T) {
	bad := [][]RouteRule{
		{{Pattern: "admin", Permissions: []string{PermUserReadOrg}}},
		{{Pattern: "/admin"}},
		{{Pattern: "/admin", Permissions: []string{"user:read"}}},
		{{Pattern: "/admin", Permissions: []string{"user:read:everyone"}}},
	}
	for _, rules := range bad {
		_, err := NewRouteTable(rules)
		assert.True(t, errors.Is(err, ErrInvalidRoute), "%v", rules)
	}
}

func TestLoadRouteTable(t *testing.T) {
	doc := `
routes:
  - pattern: /reports/*
    permissions: [report:read:org, report:read:all]
  - pattern: /api/billing
    permissions: [settings:edit:org]
`
	table, err := LoadRouteTable(strings.NewReader(doc))
	require.NoError(t, err)

	assert.False(t, table.Allows(RoleUser, "/reports/q1"))
	assert.True(t, table.Allows(RoleAnalyst, "/reports/q1"))
	assert.True(t, table.Allows(RoleOrgAdmin, "/api/billing/invoices"))
	assert.False(t, table.Allows(RoleAnalyst, "/api/billing"))
	assert.Len(t, table.Rules(), 2)
}

func TestLoadRouteTableRejectsUnknownFields(t *testing.T) {
	_, err := LoadRouteTable(strings.NewReader("routes:\n  - path: /x\n    permissions: [a:b:own]\n"))
	assert.Error(t, err)
}

func TestLoadRouteTableFile(t *testing.T) {
	table, err := LoadRouteTableFile("")
	require.NoError(t, err)
	assert.Same(t, DefaultRouteTable(), table)

	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - pattern: /billing\n    permissions: [settings:edit:org]\n"), 0o600))
	table, err = LoadRouteTableFile(path)
	require.NoError(t, err)
	assert.True(t, table.Resolve("/billing").Protected)

	_, err = LoadRouteTableFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
