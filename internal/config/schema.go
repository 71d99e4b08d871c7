package config

import (
	"encoding/json"
	"fmt"
	"strings"

	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// configSchema constrains the storageops.yaml shape before struct decoding,
// so typos surface as field-level errors instead of silent zero values.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "storage": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "endpoint": {"type": "string"},
        "region": {"type": "string"},
        "bucket": {"type": "string"},
        "force_path_style": {"type": "boolean"}
      }
    },
    "rotation": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "source": {"type": "string", "enum": ["ssm", "secretsmanager", "assume_role"]},
        "parameter_base_path": {"type": "string"},
        "region": {"type": "string"},
        "profile": {"type": "string"},
        "role_arn": {"type": "string"},
        "session_name": {"type": "string"},
        "engine_expiry_buffer_hours": {"type": "integer", "minimum": 1},
        "health_expiry_buffer_hours": {"type": "integer", "minimum": 1}
      }
    },
    "scan": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "timeout_seconds": {"type": "integer", "minimum": 1},
        "temp_dir": {"type": "string"}
      }
    },
    "database": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "url": {"type": "string"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "listen": {"type": "string"}
      }
    }
  }
}`

// validateSchema validates raw YAML config bytes against the JSON schema.
func validateSchema(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return serrors.ConfigError{
			Field:   "yaml",
			Message: "invalid YAML syntax: " + err.Error(),
		}
	}
	if doc == nil {
		// Empty file; defaults and env overrides still apply.
		return nil
	}

	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert config for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return serrors.ConfigError{
			Field:      "schema",
			Message:    strings.Join(problems, "; "),
			Suggestion: "Compare your storageops.yaml against the documented fields",
		}
	}

	return nil
}
