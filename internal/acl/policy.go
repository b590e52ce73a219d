// Package acl implements the access-control gate that guards every layer
// crossing in the lake. Decisions come from a declarative role policy
// evaluated by an embedded Rego module.
package acl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// RolePerms holds the layers a role may read and write.
type RolePerms struct {
	Read  []governance.Layer
	Write []governance.Layer
}

// Policy maps role names to their permissions. A Policy is immutable once loaded.
type Policy struct {
	roles map[string]RolePerms
}

type policyDoc struct {
	Roles map[string]rolePermsDoc `yaml:"roles" toml:"roles"`
}

type rolePermsDoc struct {
	Read  []string `yaml:"read" toml:"read"`
	Write []string `yaml:"write" toml:"write"`
}

// LoadPolicy reads a role policy from path. The format is chosen by extension:
// .toml for TOML, anything else is parsed as YAML.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: policy path comes from configuration
	if err != nil {
		return nil, &governance.ConfigurationError{Path: path, Reason: "cannot read role policy", Err: err}
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}

	policy, err := ParsePolicy(data, format)
	if err != nil {
		var cfgErr *governance.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
			return nil, cfgErr
		}
		return nil, &governance.ConfigurationError{Path: path, Reason: "malformed role policy", Err: err}
	}
	return policy, nil
}

// ParsePolicy parses a role policy document in the given format ("yaml" or "toml").
func ParsePolicy(data []byte, format string) (*Policy, error) {
	var doc policyDoc

	switch format {
	case "toml":
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys: %v", undecoded)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, &governance.ConfigurationError{Reason: "role policy is empty"}
			}
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q", format)
	}

	if len(doc.Roles) == 0 {
		return nil, &governance.ConfigurationError{Reason: "role policy defines no roles"}
	}

	policy := &Policy{roles: make(map[string]RolePerms, len(doc.Roles))}
	var unknown []string
	for name, perms := range doc.Roles {
		read, badRead := toLayers(perms.Read)
		write, badWrite := toLayers(perms.Write)
		for _, l := range append(badRead, badWrite...) {
			unknown = append(unknown, name+":"+l)
		}
		policy.roles[name] = RolePerms{Read: read, Write: write}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &governance.ConfigurationError{
			Reason: "role policy names unknown layers: " + strings.Join(unknown, ", "),
		}
	}

	return policy, nil
}

func toLayers(names []string) (layers []governance.Layer, unknown []string) {
	for _, name := range lo.Uniq(names) {
		l := governance.Layer(name)
		if !l.IsKnown() {
			unknown = append(unknown, name)
			continue
		}
		layers = append(layers, l)
	}
	return layers, unknown
}

// Roles returns the sorted role names.
func (p *Policy) Roles() []string {
	names := lo.Keys(p.roles)
	sort.Strings(names)
	return names
}

// Perms returns the permissions for role.
func (p *Policy) Perms(role string) (RolePerms, bool) {
	perms, ok := p.roles[role]
	return perms, ok
}

// regoInput builds the evaluation document for a single decision.
func (p *Policy) regoInput(role string, layer governance.Layer, mode governance.Mode) map[string]any {
	roles := make(map[string]any, len(p.roles))
	for name, perms := range p.roles {
		roles[name] = map[string]any{
			string(governance.ModeRead):  layerNames(perms.Read),
			string(governance.ModeWrite): layerNames(perms.Write),
		}
	}
	return map[string]any{
		"role":  role,
		"layer": string(layer),
		"mode":  string(mode),
		"roles": roles,
	}
}

func layerNames(layers []governance.Layer) []any {
	return lo.Map(layers, func(l governance.Layer, _ int) any { return string(l) })
}
