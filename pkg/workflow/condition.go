// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// evaluateCondition evaluates a step condition against the step's bound
// values. Supported: ==, !=, &&, ||, ! over variables and string,
// numeric, and boolean literals. String literals use single or double
// quotes.
func evaluateCondition(expr string, vars map[string]interface{}) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("empty condition")
	}

	// Logical OR, lowest precedence. Operators inside quoted string
	// literals are part of the literal, not the expression.
	if parts := splitOutsideQuotes(expr, "||"); len(parts) > 1 {
		for _, part := range parts {
			result, err := evaluateCondition(part, vars)
			if err != nil {
				return false, err
			}
			if result {
				return true, nil
			}
		}
		return false, nil
	}

	// Logical AND.
	if parts := splitOutsideQuotes(expr, "&&"); len(parts) > 1 {
		for _, part := range parts {
			result, err := evaluateCondition(part, vars)
			if err != nil {
				return false, err
			}
			if !result {
				return false, nil
			}
		}
		return true, nil
	}

	// Negation. "!=" is handled below, so only bare "!" reaches here.
	if strings.HasPrefix(expr, "!") && !strings.HasPrefix(expr, "!=") {
		result, err := evaluateCondition(expr[1:], vars)
		if err != nil {
			return false, err
		}
		return !result, nil
	}

	for _, op := range []string{"==", "!="} {
		if idx := indexOutsideQuotes(expr, op); idx >= 0 {
			left, err := resolveOperand(expr[:idx], vars)
			if err != nil {
				return false, err
			}
			right, err := resolveOperand(expr[idx+len(op):], vars)
			if err != nil {
				return false, err
			}
			equal := operandsEqual(left, right)
			if op == "!=" {
				return !equal, nil
			}
			return equal, nil
		}
	}

	// A bare token must resolve to a boolean.
	val, err := resolveOperand(expr, vars)
	if err != nil {
		return false, err
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

// splitOutsideQuotes splits expr on sep, ignoring occurrences inside
// single- or double-quoted string literals.
func splitOutsideQuotes(expr, sep string) []string {
	var parts []string
	start := 0
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		if strings.HasPrefix(expr[i:], sep) {
			parts = append(parts, expr[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, expr[start:])
}

// indexOutsideQuotes returns the first index of op outside quoted
// string literals, or -1.
func indexOutsideQuotes(expr, op string) int {
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		if strings.HasPrefix(expr[i:], op) {
			return i
		}
	}
	return -1
}

// resolveOperand resolves a literal or a variable from the bound values.
func resolveOperand(token string, vars map[string]interface{}) (interface{}, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty operand")
	}

	if len(token) >= 2 {
		if (token[0] == '"' && token[len(token)-1] == '"') ||
			(token[0] == '\'' && token[len(token)-1] == '\'') {
			return token[1 : len(token)-1], nil
		}
	}
	if token == "true" {
		return true, nil
	}
	if token == "false" {
		return false, nil
	}
	if num, err := strconv.ParseFloat(token, 64); err == nil {
		return num, nil
	}

	val, ok := vars[token]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", token)
	}
	return val, nil
}

// operandsEqual compares two operands, normalizing numeric types so a
// bound int compares equal to a numeric literal.
func operandsEqual(left, right interface{}) bool {
	if lf, lok := toFloat64(left); lok {
		if rf, rok := toFloat64(right); rok {
			return lf == rf
		}
		return false
	}
	return left == right
}

func toFloat64(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
