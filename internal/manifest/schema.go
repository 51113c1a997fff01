package manifest

// manifestSchemaJSON is the structural validation schema for the manifest
// document, translated from the original engine's schemars-generated
// local-ci.schema.json (config.rs) into a hand-written JSON Schema. Kept as
// a loose pre-check ahead of the strict yaml.v3 decode, which is what
// actually enforces unknown-field rejection and type coercion.
const manifestSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Manifest",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "num_worktrees": {"type": "integer", "minimum": 0},
    "resources": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "count": {"type": "integer", "minimum": 0},
          "tokens": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "tests": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "command"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "command": {
            "oneOf": [
              {"type": "string"},
              {"type": "array", "items": {"type": "string"}}
            ]
          },
          "needs_worktree": {"type": "boolean"},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "resources": {"type": "array", "items": {"type": "string"}},
          "cache": {"type": "string", "enum": ["by_commit", "by_tree", "no_caching"]},
          "shutdown_grace_period_s": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`
