// Package extract turns free-text model output into a validated issue list.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// ErrResponseFormat is the parent of every extraction failure
var ErrResponseFormat = errors.New("response format error")

var (
	ErrEmptyResponse   = fmt.Errorf("%w: empty response", ErrResponseFormat)
	ErrMalformedJSON   = fmt.Errorf("%w: malformed JSON", ErrResponseFormat)
	ErrUnexpectedShape = fmt.Errorf("%w: unexpected response shape", ErrResponseFormat)
	ErrInvalidIssue    = fmt.Errorf("%w: invalid issue", ErrResponseFormat)
)

// Extract strips an optional markdown fence, repairs stray quotes and
// parses the result as an issue list.
func Extract(text string) ([]domain.Issue, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	return Parse(RepairQuotes(StripFence(text)))
}

// Parse validates text as a JSON array of issues without any repair.
// One invalid element fails the whole response.
func Parse(text string) ([]domain.Issue, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %s, want array", ErrUnexpectedShape, jsonKind(value))
	}

	issues := make([]domain.Issue, 0, len(items))
	for i, item := range items {
		issue, err := toIssue(item)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidIssue, i, err)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func toIssue(item any) (domain.Issue, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return domain.Issue{}, fmt.Errorf("is %s, want object", jsonKind(item))
	}

	var issue domain.Issue

	sev, ok := obj["severity"].(string)
	if !ok || !domain.Severity(sev).Valid() {
		return domain.Issue{}, fmt.Errorf("severity %v is not one of high, medium, low", obj["severity"])
	}
	issue.Severity = domain.Severity(sev)

	desc, ok := obj["description"].(string)
	if !ok {
		return domain.Issue{}, fmt.Errorf("description is required")
	}
	issue.Description = desc

	switch v := obj["lines"].(type) {
	case nil:
	case []any:
		issue.Lines = make([]int, 0, len(v))
		for _, n := range v {
			f, ok := n.(float64)
			if !ok || f != math.Trunc(f) {
				return domain.Issue{}, fmt.Errorf("lines must hold integers, got %v", n)
			}
			issue.Lines = append(issue.Lines, int(f))
		}
	default:
		return domain.Issue{}, fmt.Errorf("lines is %s, want array or null", jsonKind(v))
	}

	switch v := obj["type"].(type) {
	case nil:
		return domain.Issue{}, fmt.Errorf("type is required")
	case string:
		issue.Type = v
	default:
		return domain.Issue{}, fmt.Errorf("type is %s, want string", jsonKind(v))
	}

	return issue, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
