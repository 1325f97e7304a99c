// Package execctx resolves domain.ParameterMapping entries against an
// execution context to build a node's concrete input, and merges node
// output back into the context on completion.
//
// Grounded on the teacher's internal/worker/processor/context.go
// (RuntimeContext.ResolveConfig / PrepareNodeInput) and
// internal/worker/executor/expression.go for the token-substitution shape
// of the `expression` source type — hand-rolled here rather than wired to
// expr-lang/expr, since spec §4.4's expression source type is a narrow
// `${var.path}` / `$nodes.<ref>.<path>` substitution contract, not a general
// expression language.
package execctx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// ErrMissingRequiredParameter is returned when a required mapping fails to
// resolve; a required mapping's DefaultValue is not used as a fallback.
type ErrMissingRequiredParameter struct {
	TargetPath string
}

func (e *ErrMissingRequiredParameter) Error() string {
	return fmt.Sprintf("MISSING_REQUIRED_PARAMETER: %s", e.TargetPath)
}

// ResolveMappings resolves every mapping against ctx and the named node
// outputs, returning the assembled input. nodeOutputs maps a node reference
// (id or name) to its output.
func ResolveMappings(mappings []domain.ParameterMapping, ctx *domain.ExecutionContext, nodeOutputs map[string]domain.Variables) (domain.Variables, error) {
	input := make(domain.Variables, len(mappings))
	for _, m := range mappings {
		val, ok, err := resolveOne(m, ctx, nodeOutputs)
		if err != nil {
			return nil, err
		}
		if !ok {
			if m.Required {
				return nil, &ErrMissingRequiredParameter{TargetPath: m.TargetPath}
			}
			if m.DefaultValue != nil {
				val = m.DefaultValue
			} else {
				continue
			}
		}
		setPath(input, m.TargetPath, val)
	}
	return input, nil
}

func resolveOne(m domain.ParameterMapping, ctx *domain.ExecutionContext, nodeOutputs map[string]domain.Variables) (any, bool, error) {
	switch m.SourceType {
	case domain.SourceStatic:
		return resolveStatic(m.SourcePath), true, nil

	case domain.SourceContext:
		return domain.GetNestedValue(map[string]any(ctx.Variables), m.SourcePath)

	case domain.SourceNodeOutput:
		ref, path, found := strings.Cut(m.SourcePath, ".")
		output, ok := nodeOutputs[ref]
		if !ok {
			return nil, false, nil
		}
		if !found {
			return map[string]any(output), true, nil
		}
		return domain.GetNestedValue(map[string]any(output), path)

	case domain.SourceExpression:
		result, err := evaluateExpression(m.SourcePath, ctx, nodeOutputs)
		if err != nil {
			return nil, false, err
		}
		return result, true, nil

	default:
		return nil, false, fmt.Errorf("unknown parameter sourceType %q", m.SourceType)
	}
}

// resolveStatic parses the source as JSON, falling back to the raw string
// when it does not parse.
func resolveStatic(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

var tokenPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$nodes\.([a-zA-Z0-9_\-]+(?:\.[a-zA-Z0-9_\-]+)*)`)

// evaluateExpression substitutes `${var.path}` and `$nodes.<ref>.<path>`
// tokens with their JSON-serialized values, then tries to JSON-parse the
// resulting string; if that fails the substituted string itself is
// returned, per spec §4.4.
func evaluateExpression(expr string, ctx *domain.ExecutionContext, nodeOutputs map[string]domain.Variables) (any, error) {
	substituted := tokenPattern.ReplaceAllStringFunc(expr, func(tok string) string {
		match := tokenPattern.FindStringSubmatch(tok)
		var value any
		var ok bool
		switch {
		case match[1] != "":
			value, ok = domain.GetNestedValue(map[string]any(ctx.Variables), match[1])
		case match[2] != "":
			ref, path, found := strings.Cut(match[2], ".")
			output, exists := nodeOutputs[ref]
			if exists {
				if !found {
					value, ok = map[string]any(output), true
				} else {
					value, ok = domain.GetNestedValue(map[string]any(output), path)
				}
			}
		}
		if !ok {
			return tok
		}
		b, err := json.Marshal(value)
		if err != nil {
			return tok
		}
		return string(b)
	})

	var parsed any
	if err := json.Unmarshal([]byte(substituted), &parsed); err == nil {
		return parsed, nil
	}
	return substituted, nil
}

// setPath writes value into a nested map following a dot-separated path,
// creating intermediate maps as needed.
func setPath(target domain.Variables, path string, value any) {
	segments := strings.Split(path, ".")
	cur := target
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(domain.Variables)
		if !ok {
			next = make(domain.Variables)
			cur[seg] = next
		}
		cur = next
	}
}
