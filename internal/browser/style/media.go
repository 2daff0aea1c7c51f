// internal/browser/style/media.go
package style

import (
	"strings"
)

// MatchMedia evaluates a media query list against a viewport. A list matches when
// any comma-separated query does. Only screen features are known; print never matches.
func MatchMedia(query string, width, height float64) bool {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return true
	}
	for _, q := range strings.Split(query, ",") {
		if matchQuery(strings.TrimSpace(q), width, height) {
			return true
		}
	}
	return false
}

func matchQuery(q string, width, height float64) bool {
	negate := false
	if strings.HasPrefix(q, "not ") {
		negate = true
		q = strings.TrimSpace(q[4:])
	}
	q = strings.TrimPrefix(q, "only ")

	result := true
	for _, term := range splitAnd(q) {
		if !matchTerm(term, width, height) {
			result = false
			break
		}
	}
	if negate {
		return !result
	}
	return result
}

// splitAnd splits on the "and" keyword outside parentheses.
func splitAnd(q string) []string {
	var terms []string
	depth, start := 0, 0
	for i := 0; i < len(q); i++ {
		switch q[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ' ':
			if depth == 0 && strings.HasPrefix(q[i:], " and ") {
				terms = append(terms, strings.TrimSpace(q[start:i]))
				start = i + len(" and ")
				i = start - 1
			}
		}
	}
	terms = append(terms, strings.TrimSpace(q[start:]))
	return terms
}

func matchTerm(term string, width, height float64) bool {
	switch term {
	case "", "all", "screen":
		return true
	case "print", "speech":
		return false
	}
	if !strings.HasPrefix(term, "(") || !strings.HasSuffix(term, ")") {
		return false
	}
	feature, value, hasValue := strings.Cut(term[1:len(term)-1], ":")
	feature = strings.TrimSpace(feature)
	value = strings.TrimSpace(value)
	if !hasValue {
		switch feature {
		case "color", "hover", "pointer":
			return true
		}
		return false
	}
	ctx := LengthContext{FontSize: BaseFontSize, RootFontSize: BaseFontSize, ViewportWidth: width, ViewportHeight: height}
	px := ParseLength(value, ctx)
	switch feature {
	case "min-width":
		return width >= px
	case "max-width":
		return width <= px
	case "width":
		return width == px
	case "min-height":
		return height >= px
	case "max-height":
		return height <= px
	case "height":
		return height == px
	case "orientation":
		if value == "portrait" {
			return height >= width
		}
		return value == "landscape" && width > height
	case "prefers-color-scheme":
		return value == "light"
	case "prefers-reduced-motion":
		return value == "no-preference"
	}
	return false
}

// SupportsCondition evaluates an @supports condition. Declarations are accepted
// when the property is one the resolver computes.
func SupportsCondition(cond string) bool {
	cond = strings.TrimSpace(strings.ToLower(cond))
	if strings.HasPrefix(cond, "not ") {
		return !SupportsCondition(cond[4:])
	}
	for _, alt := range strings.Split(cond, " or ") {
		all := true
		for _, term := range strings.Split(alt, " and ") {
			term = strings.Trim(strings.TrimSpace(term), "()")
			prop, _, ok := strings.Cut(term, ":")
			if !ok || !knownProperties[strings.TrimSpace(prop)] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
