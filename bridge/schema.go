package bridge

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// PayloadValidator checks inbound handshake traffic against JSON schemas
// before it reaches the dispatcher. Signing requests are validated by
// their decoders; only the session-shaped payloads carry enough structure
// to be worth a schema.
type PayloadValidator struct {
	sessionRequest *gojsonschema.Schema
	sessionUpdate  *gojsonschema.Schema
}

// NewPayloadValidator compiles the embedded schemas.
func NewPayloadValidator() (*PayloadValidator, error) {
	reqSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(sessionRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile session request schema: %w", err)
	}
	updSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(sessionUpdateSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile session update schema: %w", err)
	}
	return &PayloadValidator{
		sessionRequest: reqSchema,
		sessionUpdate:  updSchema,
	}, nil
}

// ValidateSessionRequest validates wc_sessionRequest params.
func (v *PayloadValidator) ValidateSessionRequest(params []byte) error {
	return validate(v.sessionRequest, params)
}

// ValidateSessionUpdate validates wc_sessionUpdate params.
func (v *PayloadValidator) ValidateSessionUpdate(params []byte) error {
	return validate(v.sessionUpdate, params)
}

func validate(schema *gojsonschema.Schema, doc []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, fmt.Sprintf("- %s", e))
		}
		return fmt.Errorf("payload validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// Embedded schemas

const sessionRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Session Request Params",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["peerId", "peerMeta"],
    "properties": {
      "peerId": {
        "type": "string",
        "minLength": 1
      },
      "peerMeta": {
        "type": "object",
        "required": ["name", "url"],
        "properties": {
          "name": {"type": "string"},
          "url": {"type": "string"},
          "description": {"type": "string"},
          "icons": {
            "type": "array",
            "items": {"type": "string"}
          }
        }
      },
      "chainId": {"type": ["integer", "null"]}
    }
  }
}`

const sessionUpdateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Session Update Params",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["approved"],
    "properties": {
      "approved": {"type": "boolean"},
      "chainId": {"type": ["integer", "null"]},
      "accounts": {
        "type": ["array", "null"],
        "items": {"type": "string"}
      }
    }
  }
}`
