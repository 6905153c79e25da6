package github

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError marks a body that is not valid JSON at all. Distinct from
// ValidationError so the two terminate with different log titles.
type ParseError struct {
	err error
}

func (e *ParseError) Error() string { return "invalid json payload: " + e.err.Error() }
func (e *ParseError) Unwrap() error { return e.err }

// ValidationError carries every failed field check, not just the first.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + strings.Join(e.Fields, "; ")
}

// Parse decodes the raw body into a generic payload map. The exact bytes are
// kept for typed decoding later; this pass only establishes that the body is
// a JSON object.
func Parse(body []byte) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ParseError{err: err}
	}
	if payload == nil {
		return nil, &ParseError{err: fmt.Errorf("payload is not a json object")}
	}
	return payload, nil
}

// Validate checks only the shape the classifier needs for the given kind and
// is deliberately permissive about unknown fields so provider schema drift
// does not break ingestion. All field errors are collected.
func Validate(kind EventKind, payload map[string]interface{}) error {
	var fields []string
	requireString := func(key string) {
		v, ok := payload[key]
		if !ok {
			fields = append(fields, fmt.Sprintf("%s is required", key))
			return
		}
		if _, ok := v.(string); !ok {
			fields = append(fields, fmt.Sprintf("%s must be a string", key))
		}
	}
	optionalObject := func(key string) map[string]interface{} {
		v, ok := payload[key]
		if !ok || v == nil {
			return nil
		}
		obj, ok := v.(map[string]interface{})
		if !ok {
			fields = append(fields, fmt.Sprintf("%s must be an object", key))
			return nil
		}
		return obj
	}

	switch kind {
	case KindRelease:
		requireString("action")
		optionalObject("release")
	case KindStar:
		requireString("action")
		repo := optionalObject("repository")
		if repo == nil {
			if _, ok := payload["repository"]; !ok {
				fields = append(fields, "repository is required")
			}
		} else if v, ok := repo["stargazers_count"]; ok {
			if _, ok := v.(float64); !ok {
				fields = append(fields, "repository.stargazers_count must be a number")
			}
		}
	case KindPush:
		if v, ok := payload["ref"]; ok {
			if _, ok := v.(string); !ok {
				fields = append(fields, "ref must be a string")
			}
		}
		optionalObject("repository")
		if v, ok := payload["commits"]; ok && v != nil {
			if _, ok := v.([]interface{}); !ok {
				fields = append(fields, "commits must be an array")
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
