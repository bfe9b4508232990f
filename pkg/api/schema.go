package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

const emitEventSchema = `{
  "type": "object",
  "required": ["run_id", "event_type", "payload"],
  "additionalProperties": false,
  "properties": {
    "event_id":   {"type": "string", "minLength": 1},
    "run_id":     {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "minLength": 1},
    "timestamp":  {"type": "string", "format": "date-time"},
    "payload":    {"type": "object"},
    "causality": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["kind", "event_id"],
        "additionalProperties": false,
        "properties": {
          "kind":     {"enum": ["parent", "correlation"]},
          "event_id": {"type": "string"}
        }
      }
    }
  }
}`

const commitMemorySchema = `{
  "type": "object",
  "required": ["run_id", "source_event_ids", "memory_type", "confidence", "payload"],
  "additionalProperties": false,
  "properties": {
    "run_id":           {"type": "string", "minLength": 1},
    "source_event_ids": {"type": "array", "minItems": 1, "items": {"type": "string"}},
    "memory_type":      {"enum": ["episodic", "semantic", "procedural"]},
    "confidence":       {"type": "number", "minimum": 0, "maximum": 1},
    "payload":          {"type": "object"},
    "schema_version":   {"type": "string"},
    "ttl":              {"type": "string"},
    "access": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "agents":     {"type": "array", "items": {"type": "string"}},
        "fields":     {"type": "array", "items": {"type": "string"}},
        "expression": {"type": "string"}
      }
    }
  }
}`

const transitionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "reason":      {"type": "string"},
    "replaced_by": {"type": "string"}
  }
}`

// schemas holds the compiled request schemas keyed by name.
type schemas map[string]*jsonschema.Schema

func compileSchemas() (schemas, error) {
	sources := map[string]string{
		"emit_event":    emitEventSchema,
		"commit_memory": commitMemorySchema,
		"transition":    transitionSchema,
	}
	out := make(schemas, len(sources))
	for name, src := range sources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		url := "https://yai.dev/schemas/" + name + ".json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", name, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = sch
	}
	return out, nil
}

// decode reads a bounded JSON body, validates it against the named schema and
// unmarshals it into dst. On failure it writes the response and returns false.
// An empty body is validated as {}.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "", "request body too large")
			return false
		}
		writeBadRequest(w, r, "unreadable request body")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	var doc any
	docDec := json.NewDecoder(bytes.NewReader(body))
	docDec.UseNumber()
	if err := docDec.Decode(&doc); err != nil {
		writeBadRequest(w, r, "request body is not valid JSON")
		return false
	}
	if err := s.schemas[schema].Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			writeProblem(w, r, http.StatusUnprocessableEntity, "YAI/API/SCHEMA", schemaDetail(ve))
			return false
		}
		writeBadRequest(w, r, err.Error())
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeBadRequest(w, r, "request body does not match the expected shape")
		return false
	}
	return true
}

// schemaDetail reports the innermost failure, which names the offending field.
func schemaDetail(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}
