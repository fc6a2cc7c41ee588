package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
)

// Quoter turns a stringified parameter value into its substituted form.
type Quoter func(string) string

// Quote escapes s as a single POSIX shell word.
func Quote(s string) string {
	return shellescape.Quote(s)
}

// Raw substitutes values unchanged. It is only safe when the rendered text
// is never handed to a shell.
func Raw(s string) string {
	return s
}

// Render fills the {name} placeholders of tmpl from params. Each value is
// stringified and passed through quote before substitution; "{{" and "}}"
// produce literal braces. The first placeholder with no matching parameter
// fails the render with a *MissingParameterError. Parameters the template
// never references are ignored.
func Render(tmpl string, params map[string]any, quote Quoter) (string, error) {
	if quote == nil {
		quote = Quote
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", &TemplateError{Message: "Single '}' encountered in format string"}
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			if i+1 == len(tmpl) {
				return "", &TemplateError{Message: "Single '{' encountered in format string"}
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", &TemplateError{Message: "expected '}' before end of string"}
			}
			field := tmpl[i+1 : i+1+end]
			name, err := fieldName(field)
			if err != nil {
				return "", err
			}
			v, ok := params[name]
			if !ok {
				return "", &MissingParameterError{Name: name}
			}
			b.WriteString(quote(Stringify(v)))
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// Placeholders lists the parameter names tmpl references, in order of first
// use. Malformed templates yield the names found before the error.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '{' {
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == '{' {
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			break
		}
		name, err := fieldName(tmpl[i+1 : i+1+end])
		if err == nil && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i += end + 1
	}
	return names
}

// fieldName validates the text between braces and returns the parameter
// name it refers to.
func fieldName(field string) (string, error) {
	if field == "" {
		return "", &TemplateError{Message: "Replacement index 0 out of range for positional args tuple"}
	}
	if idx, err := strconv.Atoi(field); err == nil && idx >= 0 && field[0] != '+' {
		return "", &TemplateError{Message: fmt.Sprintf("Replacement index %d out of range for positional args tuple", idx)}
	}
	if strings.ContainsAny(field, "{!:.[]") {
		return "", &TemplateError{Message: "unsupported placeholder {" + field + "}"}
	}
	return field, nil
}
