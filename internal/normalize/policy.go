package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// stringList decodes a JSON value that may be a single string or an array
// of strings, as IAM allows for Action, Resource and principal values.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	*s = many
	return nil
}

type rawPolicy struct {
	Version   string          `json:"Version"`
	Statement json.RawMessage `json:"Statement"`
}

type rawStatement struct {
	Sid       string          `json:"Sid"`
	Effect    string          `json:"Effect"`
	Principal json.RawMessage `json:"Principal"`
	Action    stringList      `json:"Action"`
	Resource  stringList      `json:"Resource"`
	Condition json.RawMessage `json:"Condition"`
}

// ParsePolicy parses an IAM-style policy document. IAM returns role
// documents URL-encoded; text that does not start with '{' is decoded
// first. Empty text yields a nil document and no error.
func ParsePolicy(text string) (*models.PolicyDocument, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if !strings.HasPrefix(text, "{") {
		decoded, err := url.PathUnescape(text)
		if err != nil {
			return nil, fmt.Errorf("url-decode policy: %w", err)
		}
		text = strings.TrimSpace(decoded)
	}

	var raw rawPolicy
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}

	stmts, err := decodeStatements(raw.Statement)
	if err != nil {
		return nil, err
	}

	doc := &models.PolicyDocument{Version: raw.Version, Statements: make([]models.Statement, 0, len(stmts))}
	for i, rs := range stmts {
		principals, err := decodePrincipals(rs.Principal)
		if err != nil {
			return nil, fmt.Errorf("statement %d principal: %w", i, err)
		}
		doc.Statements = append(doc.Statements, models.Statement{
			Sid:          rs.Sid,
			Effect:       rs.Effect,
			Principals:   principals,
			Actions:      sortedUnique(rs.Action),
			Resources:    sortedUnique(rs.Resource),
			HasCondition: hasCondition(rs.Condition),
		})
	}
	return doc, nil
}

// decodeStatements accepts both the array form and the single-object form
// of the Statement element.
func decodeStatements(data json.RawMessage) ([]rawStatement, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	switch data[0] {
	case '[':
		var stmts []rawStatement
		if err := json.Unmarshal(data, &stmts); err != nil {
			return nil, fmt.Errorf("decode statements: %w", err)
		}
		return stmts, nil
	case '{':
		var one rawStatement
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("decode statement: %w", err)
		}
		return []rawStatement{one}, nil
	}
	return nil, fmt.Errorf("decode statements: unexpected JSON %.20q", string(data))
}

// decodePrincipals handles "*" and {"AWS": "*" | [...], "Service": ...}.
func decodePrincipals(data json.RawMessage) ([]models.Principal, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		if s == "*" {
			return []models.Principal{{Type: "*", Value: "*"}}, nil
		}
		return []models.Principal{{Type: "AWS", Value: s}}, nil
	}

	var byType map[string]stringList
	if err := json.Unmarshal(data, &byType); err != nil {
		return nil, err
	}
	var out []models.Principal
	for typ, values := range byType {
		for _, v := range values {
			out = append(out, models.Principal{Type: typ, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func hasCondition(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		// Present but not an object: treat as a condition so the statement
		// is not reported as unconditionally public.
		return true
	}
	return len(m) > 0
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
