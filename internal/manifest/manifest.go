// Package manifest loads and validates the YAML document that describes a
// repository's tests and resources, lowering it into graph.RawTest values
// and resource pool sizes. It mirrors the original engine's Config/Test/
// Resource deserialization (config.rs) translated from serde's
// deny_unknown_fields into yaml.v3's decoder.KnownFields(true), the same
// strict-decode idiom egv-yolo-runner uses for its own YAML config.
package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"limmat/internal/graph"
)

// Document is the raw shape of the manifest file, decoded directly from
// YAML before field-level defaults are applied.
type Document struct {
	NumWorktrees int              `yaml:"num_worktrees"`
	Resources    []ResourceDoc    `yaml:"resources"`
	Tests        []TestDoc        `yaml:"tests"`
}

// ResourceDoc is one entry of the manifest's top-level `resources` array.
// Exactly one of Count or Tokens should be set; Count defaults to 1 if
// neither is present.
type ResourceDoc struct {
	Name   string   `yaml:"name"`
	Count  *int     `yaml:"count"`
	Tokens []string `yaml:"tokens"`
}

// commandDoc accepts either a bare shell string or an explicit argv list,
// mirroring Command's untagged enum in the original engine.
type commandDoc struct {
	shell string
	argv  []string
}

func (c *commandDoc) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&c.shell)
	case yaml.SequenceNode:
		return value.Decode(&c.argv)
	default:
		return fmt.Errorf("command must be a string or a list of strings")
	}
}

// TestDoc is one entry of the manifest's top-level `tests` array.
type TestDoc struct {
	Name                string      `yaml:"name"`
	Command             commandDoc  `yaml:"command"`
	NeedsWorktree       *bool       `yaml:"needs_worktree"`
	DependsOn           []string    `yaml:"depends_on"`
	Resources           []string    `yaml:"resources"`
	Cache               string      `yaml:"cache"`
	ShutdownGracePeriodS *int       `yaml:"shutdown_grace_period_s"`
}

// Load decodes and validates a manifest from raw YAML bytes: first against
// the embedded JSON Schema (catching structurally wrong documents with a
// single clear error), then via a strict yaml.v3 decode that rejects
// unknown fields, matching the egv-yolo-runner config-loading idiom.
func Load(data []byte) (*Document, error) {
	if err := validateAgainstSchema(data); err != nil {
		return nil, fmt.Errorf("manifest failed schema validation: %w", err)
	}

	var doc Document
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &doc, nil
}

func validateAgainstSchema(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.json", strings.NewReader(manifestSchemaJSON)); err != nil {
		return fmt.Errorf("loading embedded schema: %w", err)
	}
	schema, err := compiler.Compile("manifest.json")
	if err != nil {
		return fmt.Errorf("compiling embedded schema: %w", err)
	}

	var asYAMLValue interface{}
	if err := yaml.Unmarshal(data, &asYAMLValue); err != nil {
		return fmt.Errorf("parsing manifest as YAML: %w", err)
	}
	asJSONValue, err := toJSONCompatible(asYAMLValue)
	if err != nil {
		return err
	}
	return schema.Validate(asJSONValue)
}

// toJSONCompatible recursively copies the map[string]interface{} and
// []interface{} nodes that gopkg.in/yaml.v3 produces for string-keyed
// mappings and sequences, returning every other value unchanged, so the
// jsonschema validator receives encoding/json-shaped values. Mappings with
// non-string keys are not converted.
func toJSONCompatible(v interface{}) (interface{}, error) {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			conv, err := toJSONCompatible(val)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			conv, err := toJSONCompatible(val)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	default:
		return v, nil
	}
}

// Lower resolves a validated Document into graph.Build's inputs: the raw
// test list and the declared resource pool sizes, applying the same
// defaults (needs_worktree=true, cache=by_commit, shutdown_grace_period_s=
// 60) that the original engine's Test::parse applies.
func Lower(doc *Document) ([]graph.RawTest, map[string]int, map[string][]string, error) {
	poolSizes := make(map[string]int, len(doc.Resources))
	poolTokens := make(map[string][]string, len(doc.Resources))
	for _, r := range doc.Resources {
		if r.Name == "" {
			return nil, nil, nil, fmt.Errorf("resource has no name")
		}
		switch {
		case len(r.Tokens) > 0:
			poolTokens[r.Name] = append([]string(nil), r.Tokens...)
			poolSizes[r.Name] = len(r.Tokens)
		case r.Count != nil:
			poolSizes[r.Name] = *r.Count
			poolTokens[r.Name] = syntheticTokens(r.Name, *r.Count)
		default:
			poolSizes[r.Name] = 1
			poolTokens[r.Name] = syntheticTokens(r.Name, 1)
		}
	}

	tests := make([]graph.RawTest, 0, len(doc.Tests))
	for _, td := range doc.Tests {
		if td.Name == "" {
			return nil, nil, nil, fmt.Errorf("test has no name")
		}
		if td.Command.shell == "" && len(td.Command.argv) == 0 {
			return nil, nil, nil, fmt.Errorf("test %q has no command", td.Name)
		}

		needsWorktree := true
		if td.NeedsWorktree != nil {
			needsWorktree = *td.NeedsWorktree
		}

		cache := graph.CacheByCommit
		if td.Cache != "" {
			switch td.Cache {
			case "by_commit":
				cache = graph.CacheByCommit
			case "by_tree":
				cache = graph.CacheByTree
			case "no_caching":
				cache = graph.CacheNone
			default:
				return nil, nil, nil, fmt.Errorf("test %q has unknown cache policy %q", td.Name, td.Cache)
			}
		}

		grace := 60 * time.Second
		if td.ShutdownGracePeriodS != nil {
			grace = time.Duration(*td.ShutdownGracePeriodS) * time.Second
		}

		resources := make([]graph.ResourceDemand, 0, len(td.Resources))
		for _, name := range td.Resources {
			resources = append(resources, graph.ResourceDemand{Name: name, Count: 1})
		}

		tests = append(tests, graph.RawTest{
			Name:                td.Name,
			Command:             graph.Command{Shell: td.Command.shell, Argv: td.Command.argv},
			NeedsWorktree:       needsWorktree,
			DependsOn:           append([]string(nil), td.DependsOn...),
			Resources:           resources,
			Cache:               cache,
			ShutdownGracePeriod: grace,
		})
	}

	return tests, poolSizes, poolTokens, nil
}

func syntheticTokens(name string, count int) []string {
	tokens := make([]string, count)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("%s-%d", name, i)
	}
	return tokens
}
