package breakpoints

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	jsdaperr "github.com/jsdap/jsdap/internal/errors"
)

// ValidateCondition checks that a condition expression parses as
// JavaScript before it is shipped to the target, so the user gets a
// syntax error immediately instead of a breakpoint that silently never
// fires.
func ValidateCondition(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := goja.Compile("condition", "("+expr+")", false); err != nil {
		return jsdaperr.InvalidCondition(expr, err)
	}
	return nil
}

// compileCondition builds the single CDP condition string for a
// breakpoint from its user condition, hit condition and log message.
// The pieces are AND-combined; a log message contributes an expression
// that logs and yields false, so logpoints never pause.
func compileCondition(id int, condition, hitCondition, logMessage string) (string, error) {
	var parts []string

	if condition != "" {
		if err := ValidateCondition(condition); err != nil {
			return "", err
		}
		parts = append(parts, "("+condition+")")
	}
	if hitCondition != "" {
		expr, err := hitConditionExpression(id, hitCondition)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	if logMessage != "" {
		expr, err := logMessageExpression(logMessage)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, " && "), nil
}

// hitConditionExpression turns a DAP hit condition ("5", ">= 5", "% 3")
// into an in-target counter expression. The counter lives on globalThis
// keyed by the breakpoint id so independent breakpoints never share
// counts.
func hitConditionExpression(id int, hitCondition string) (string, error) {
	op := "==="
	num := strings.TrimSpace(hitCondition)
	for _, candidate := range []string{">=", "<=", "==", "=", ">", "<", "%"} {
		if strings.HasPrefix(num, candidate) {
			op = candidate
			num = strings.TrimSpace(num[len(candidate):])
			break
		}
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return "", jsdaperr.InvalidCondition(hitCondition, fmt.Errorf("hit count must be a non-negative integer"))
	}

	counter := fmt.Sprintf("globalThis.__jsdapHits%d", id)
	switch op {
	case "=", "==":
		op = "==="
	case "%":
		return fmt.Sprintf("(%s = (%s || 0) + 1, %s %% %d === 0)", counter, counter, counter, n), nil
	}
	return fmt.Sprintf("(%s = (%s || 0) + 1, %s %s %d)", counter, counter, counter, op, n), nil
}

// logMessageExpression turns a log message with {expr} interpolations
// into a console.log call that evaluates to false.
func logMessageExpression(message string) (string, error) {
	tmpl := interpolateLogMessage(message)
	if _, err := goja.Compile("logMessage", tmpl, false); err != nil {
		return "", jsdaperr.InvalidCondition(message, err)
	}
	return "(console.log(" + tmpl + "), false)", nil
}

// interpolateLogMessage converts "count is {x}" into the template
// literal `count is ${x}`, escaping literal backticks, backslashes and
// ${ sequences in the surrounding text. Braces nest inside an
// interpolation so object literals work.
func interpolateLogMessage(message string) string {
	var b strings.Builder
	b.WriteByte('`')
	for i := 0; i < len(message); i++ {
		c := message[i]
		if c == '{' {
			depth := 1
			j := i + 1
			for ; j < len(message) && depth > 0; j++ {
				switch message[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
			}
			if depth == 0 {
				b.WriteString("${")
				b.WriteString(message[i+1 : j-1])
				b.WriteByte('}')
				i = j - 1
				continue
			}
		}
		switch c {
		case '`', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '$':
			if i+1 < len(message) && message[i+1] == '{' {
				b.WriteString("\\$")
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('`')
	return b.String()
}
