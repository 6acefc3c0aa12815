// Package proxy implements the authenticated pass-through to the hosted
// data service. The gateway holds the only copy of the service key; the
// browser only ever sees the proxy endpoint and the allow-list decides
// what passes through it.
package proxy

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andina-labs/almacen/pkg/auth"
)

// restRoot is the only upstream subtree the proxy will ever touch.
const restRoot = "/rest/v1/"

// Rule allows one upstream path prefix. Reads are open to any
// authenticated linked account; writes additionally require an
// admin-capable role and AdminWrite on the rule.
type Rule struct {
	Prefix     string `yaml:"prefix"`
	AdminWrite bool   `yaml:"admin_write"`
}

// Policy is the immutable allow-list consulted before any forwarding.
type Policy struct {
	rules []Rule
}

// policyFile is the on-disk shape of a policy override.
type policyFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultPolicy returns the built-in allow-list for the inventory tables.
func DefaultPolicy() *Policy {
	p, _ := NewPolicy([]Rule{
		{Prefix: restRoot + "articulos", AdminWrite: true},
		{Prefix: restRoot + "movimientos", AdminWrite: true},
		{Prefix: restRoot + "proveedores", AdminWrite: true},
		{Prefix: restRoot + "categorias", AdminWrite: true},
		{Prefix: restRoot + "unidades", AdminWrite: true},
		{Prefix: restRoot + "configuracion", AdminWrite: true},
		{Prefix: restRoot + "usuarios"},
		{Prefix: restRoot + "rpc/siguiente_folio", AdminWrite: true},
	})
	return p
}

// NewPolicy validates and builds a policy from rules.
func NewPolicy(rules []Rule) (*Policy, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("policy has no rules")
	}
	for _, rule := range rules {
		if !strings.HasPrefix(rule.Prefix, restRoot) {
			return nil, fmt.Errorf("rule prefix %q is outside %s", rule.Prefix, restRoot)
		}
	}
	return &Policy{rules: rules}, nil
}

// LoadPolicyFile reads a YAML policy. The result replaces the built-in
// allow-list entirely and is immutable for the life of the process.
func LoadPolicyFile(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return NewPolicy(file.Rules)
}

// Authorize decides whether a method/path pair is allowed for a role.
// Returns a short denial reason for metrics alongside the client-facing
// error; both are empty/nil when the request may be forwarded.
func (p *Policy) Authorize(method, path string, role auth.Role) (string, error) {
	rule, ok := p.match(path)
	if !ok {
		return "outside_allow_list", auth.NewForbidden("target is not allowed through the proxy")
	}

	if method == http.MethodGet || method == http.MethodHead {
		return "", nil
	}

	if !role.CanWrite() {
		return "role_cannot_write", auth.NewForbidden("role does not allow write operations")
	}
	if !rule.AdminWrite {
		return "prefix_read_only", auth.NewForbidden("target does not allow write operations")
	}
	return "", nil
}

// match finds the rule for a path. Prefix matches stop at a path segment
// boundary so "usuarios" never covers "usuarios_archivo".
func (p *Policy) match(path string) (Rule, bool) {
	for _, rule := range p.rules {
		if path == rule.Prefix {
			return rule, true
		}
		if strings.HasPrefix(path, rule.Prefix) {
			rest := path[len(rule.Prefix):]
			if rest[0] == '/' {
				return rule, true
			}
		}
	}
	return Rule{}, false
}
