package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the JSON Schema the configuration document must satisfy
// before it is unmarshalled into Config (§6 "Schema validation at
// startup; any violation aborts startup with a structured error").
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "host": {"type": "string"},
    "port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "logLevel": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
    "auth": {
      "type": "object",
      "properties": {
        "staticTokens": {"type": "array", "items": {"type": "string"}},
        "issuer": {"type": "string"},
        "oauthClients": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "secret"],
            "properties": {
              "id": {"type": "string"},
              "secret": {"type": "string"},
              "grantTypes": {"type": "array", "items": {"type": "string"}},
              "scopes": {"type": "array", "items": {"type": "string"}},
              "redirectUris": {"type": "array", "items": {"type": "string"}}
            }
          }
        }
      }
    },
    "backends": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "command"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "transport": {"type": "string", "enum": ["stdio"]},
          "command": {"type": "string", "minLength": 1},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object"},
          "enabled": {"type": "boolean"},
          "maxRestarts": {"type": "integer", "minimum": 0},
          "connectTimeout": {"type": "string"},
          "requestTimeout": {"type": "string"},
          "restartBackoffInitial": {"type": "string"},
          "restartBackoffMax": {"type": "string"},
          "logFilterRegex": {"type": "string"}
        }
      }
    },
    "rateLimit": {
      "type": "object",
      "properties": {
        "requestsPerSecond": {"type": "number", "minimum": 0},
        "burst": {"type": "integer", "minimum": 0}
      }
    },
    "session": {
      "type": "object",
      "properties": {
        "idleTimeout": {"type": "string"}
      }
    },
    "router": {
      "type": "object",
      "properties": {
        "callTimeout": {"type": "string"}
      }
    }
  }
}`

// ValidateSchema checks doc (the configuration document decoded into a
// generic map) against configSchema, returning every violation joined into a single
// error.
func ValidateSchema(doc map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var sb strings.Builder
	for i, e := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.String())
	}
	return fmt.Errorf("%s", sb.String())
}
