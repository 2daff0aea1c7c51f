// browser/parser/css_test.go
package parser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper functions to build expected structures concisely
func d(prop, val string, important bool) Declaration {
	return Declaration{Property: Property(prop), Value: Value(val), Important: important}
}

func s(tag, id string, classes []string, attrs []AttributeSelector) SimpleSelector {
	return SimpleSelector{TagName: tag, ID: id, Classes: classes, Attributes: attrs}
}

func cs(selectors ...SimpleSelectorWithCombinator) ComplexSelector {
	return ComplexSelector{Selectors: selectors}
}

func sc(c Combinator, sel SimpleSelector) SimpleSelectorWithCombinator {
	return SimpleSelectorWithCombinator{Combinator: c, SimpleSelector: sel}
}

func firstStyleRule(t *testing.T, sheet StyleSheet) *StyleRule {
	t.Helper()
	rules := sheet.StyleRules(nil)
	require.NotEmpty(t, rules)
	return rules[0]
}

func TestParseSimpleSelectorsAndAttributes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected SimpleSelector
	}{
		{"Tag", "div", s("div", "", nil, nil)},
		{"Uppercase Tag", "DIV", s("div", "", nil, nil)},
		{"ID", "#main", s("", "main", nil, nil)},
		{"Class", ".button", s("", "", []string{"button"}, nil)},
		{"Multiple Classes", ".btn.primary", s("", "", []string{"btn", "primary"}, nil)},
		{"Combined", "input#username.required", s("input", "username", []string{"required"}, nil)},
		{"Universal", "*", s("*", "", nil, nil)},
		{"Attr Presence", "[disabled]", s("", "", nil, []AttributeSelector{{Name: "disabled"}})},
		{"Attr Exact", `[type="text"]`, s("", "", nil, []AttributeSelector{{Name: "type", Operator: "=", Value: "text"}})},
		{"Attr Contains Word (~=)", `[class~="alert"]`, s("", "", nil, []AttributeSelector{{Name: "class", Operator: "~=", Value: "alert"}})},
		{"Attr Prefix Hyphen (|=)", `[lang|="en"]`, s("", "", nil, []AttributeSelector{{Name: "lang", Operator: "|=", Value: "en"}})},
		{"Attr Starts With (^=)", `[href^="https"]`, s("", "", nil, []AttributeSelector{{Name: "href", Operator: "^=", Value: "https"}})},
		{"Attr Ends With ($=)", `[src$=".png"]`, s("", "", nil, []AttributeSelector{{Name: "src", Operator: "$=", Value: ".png"}})},
		{"Attr Contains Substring (*=)", `[title*="ex"]`, s("", "", nil, []AttributeSelector{{Name: "title", Operator: "*=", Value: "ex"}})},
		{"Mixed", `a.external[target="_blank"]`, s("a", "", []string{"external"}, []AttributeSelector{{Name: "target", Operator: "=", Value: "_blank"}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, err := ParseSelector(tt.input)
			require.NoError(t, err)
			require.Len(t, group, 1)
			require.Len(t, group[0].Selectors, 1)
			assert.Equal(t, tt.expected, group[0].Selectors[0].SimpleSelector)
		})
	}
}

func TestParsePseudoSelectors(t *testing.T) {
	group, err := ParseSelector("a:hover::before")
	require.NoError(t, err)
	sel := group[0].Selectors[0].SimpleSelector
	assert.Equal(t, "a", sel.TagName)
	require.Len(t, sel.PseudoClasses, 1)
	assert.Equal(t, "hover", sel.PseudoClasses[0].Name)
	assert.Equal(t, "before", sel.PseudoElement)

	group, err = ParseSelector("li:nth-child(2n + 1):not(.a, #b)")
	require.NoError(t, err)
	sel = group[0].Selectors[0].SimpleSelector
	require.Len(t, sel.PseudoClasses, 2)
	assert.Equal(t, "2n + 1", sel.PseudoClasses[0].Argument)
	assert.Equal(t, "not", sel.PseudoClasses[1].Name)
	assert.Len(t, sel.PseudoClasses[1].Selector, 2)

	parts := group[0].Parts()
	kinds := make([]PartKind, len(parts))
	for i, p := range parts {
		kinds[i] = p.Kind
	}
	assert.Equal(t, []PartKind{PartType, PartPseudoClass, PartPseudoClass}, kinds)
}

func TestParseCombinators(t *testing.T) {
	input := `
		div p,
		article > section,
		h1 + h2,
		h2 ~ p,
		.container .item > span
	`
	group, err := ParseSelector(input)
	require.NoError(t, err)
	require.Len(t, group, 5)

	expected := []ComplexSelector{
		cs(sc(CombinatorNone, s("div", "", nil, nil)), sc(CombinatorDescendant, s("p", "", nil, nil))),
		cs(sc(CombinatorNone, s("article", "", nil, nil)), sc(CombinatorChild, s("section", "", nil, nil))),
		cs(sc(CombinatorNone, s("h1", "", nil, nil)), sc(CombinatorAdjacentSibling, s("h2", "", nil, nil))),
		cs(sc(CombinatorNone, s("h2", "", nil, nil)), sc(CombinatorGeneralSibling, s("p", "", nil, nil))),
		cs(
			sc(CombinatorNone, s("", "", []string{"container"}, nil)),
			sc(CombinatorDescendant, s("", "", []string{"item"}, nil)),
			sc(CombinatorChild, s("span", "", nil, nil)),
		),
	}

	for i, exp := range expected {
		assert.Equal(t, exp, group[i], "Mismatch for ComplexSelector %d", i)
	}

	parts := group[1].Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, PartCombinator, parts[1].Kind)
	assert.Equal(t, CombinatorChild, parts[1].Combinator)
}

func TestParseDeclarations(t *testing.T) {
	input := `
	a {
		color: red;
		font-size: 16px !important;
		margin: 10px 20px;
		border: none;
        /* Comment between declarations */
        background: url("a;b.png") no-repeat;
        padding: 0
	}
	`
	sheet := NewParser(input).Parse()
	assert.Empty(t, sheet.Errors)

	expected := []Declaration{
		d("color", "red", false),
		d("font-size", "16px", true),
		d("margin", "10px 20px", false),
		d("border", "none", false),
		d("background", `url("a;b.png") no-repeat`, false),
		d("padding", "0", false),
	}
	assert.Equal(t, expected, firstStyleRule(t, sheet).Declarations)
}

func TestParseDeclarations_Inline(t *testing.T) {
	decls, errs := ParseDeclarations("COLOR: blue; width:10px ! important")
	assert.Empty(t, errs)
	assert.Equal(t, []Declaration{d("color", "blue", false), d("width", "10px", true)}, decls)
}

func TestCalculateSpecificity(t *testing.T) {
	tests := []struct {
		input string
		want  Specificity
	}{
		{"*", Specificity{0, 0, 0}},
		{"div", Specificity{0, 0, 1}},
		{".class", Specificity{0, 1, 0}},
		{"#id", Specificity{1, 0, 0}},
		{"div.class#id", Specificity{1, 1, 1}},
		{"ul li", Specificity{0, 0, 2}},
		{`[type="text"]`, Specificity{0, 1, 0}},
		{".class[attr]", Specificity{0, 2, 0}},
		{"#header .nav li.active", Specificity{1, 2, 1}},
		{"a:hover", Specificity{0, 1, 1}},
		{"p::first-line", Specificity{0, 0, 2}},
		{":where(#a, .b) p", Specificity{0, 0, 1}},
		{":is(#a, .b) p", Specificity{1, 0, 1}},
		{"div:not(.x)", Specificity{0, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			group, err := ParseSelector(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, group[0].Specificity())
			a, b, c := group[0].CalculateSpecificity()
			assert.Equal(t, tt.want, Specificity{a, b, c})
		})
	}

	assert.True(t, Specificity{0, 1, 0}.Less(Specificity{1, 0, 0}))
	assert.True(t, Specificity{0, 1, 1}.Less(Specificity{0, 2, 0}))
	assert.False(t, Specificity{0, 0, 1}.Less(Specificity{0, 0, 1}))
}

func TestParseAtRules(t *testing.T) {
	input := `
@charset "utf-8";
@import url("base.css") screen;
@import 'print.css';
@media screen and (min-width: 900px) { div { display: none; } .a { color: red } }
@font-face { font-family: "X"; src: url(x.woff) }
@keyframes spin { from { opacity: 0 } 50%, 75% { opacity: .5 } to { opacity: 1 } }
@supports (display: grid) { .g { display: grid } }
@layer base, theme;
@layer base { p { margin: 0 } }
@container sidebar (min-width: 400px) { .card { padding: 1px } }
@page :first { margin: 1in }
@unknown-thing foo { bar { baz: 1 } }
p { color: blue; }
`
	sheet := NewParser(input).Parse()
	assert.Empty(t, sheet.Errors)

	var kinds []string
	for _, r := range sheet.Rules {
		kinds = append(kinds, RuleKind(r))
	}
	assert.Equal(t, []string{"import", "import", "media", "font-face", "keyframes", "supports", "layer", "layer", "container", "style"}, kinds)

	imp := sheet.Rules[0].(*ImportRule)
	assert.Equal(t, "base.css", imp.URL)
	assert.Equal(t, "screen", imp.Media)
	assert.Equal(t, "print.css", sheet.Rules[1].(*ImportRule).URL)

	media := sheet.Rules[2].(*MediaRule)
	assert.Equal(t, "screen and (min-width: 900px)", media.Query)
	assert.Len(t, media.Rules, 2)

	assert.Len(t, sheet.Rules[3].(*FontFaceRule).Declarations, 2)

	kf := sheet.Rules[4].(*KeyframesRule)
	assert.Equal(t, "spin", kf.Name)
	require.Len(t, kf.Frames, 3)
	assert.Equal(t, "50%, 75%", kf.Frames[1].Selector)

	assert.Equal(t, "(display: grid)", sheet.Rules[5].(*SupportsRule).Condition)
	assert.Equal(t, []string{"base", "theme"}, sheet.Rules[6].(*LayerRule).Names)
	assert.Nil(t, sheet.Rules[6].(*LayerRule).Rules)
	assert.Len(t, sheet.Rules[7].(*LayerRule).Rules, 1)

	container := sheet.Rules[8].(*ContainerRule)
	assert.Equal(t, "sidebar", container.Name)
	assert.Equal(t, "(min-width: 400px)", container.Query)

	// Style rules from all groups, in source order.
	all := sheet.StyleRules(nil)
	assert.Len(t, all, 6)
	noMedia := sheet.StyleRules(func(r Rule) bool { _, isMedia := r.(*MediaRule); return !isMedia })
	assert.Len(t, noMedia, 4)
}

func TestErrorRecovery(t *testing.T) {
	t.Run("Missing colon recorded", func(t *testing.T) {
		sheet := NewParser(`p { color red; font-size: 12px; border }`).Parse()
		rule := firstStyleRule(t, sheet)
		assert.Equal(t, []Declaration{d("font-size", "12px", false)}, rule.Declarations)
		require.Len(t, sheet.Errors, 2)
		assert.True(t, errors.Is(sheet.Errors[0], ErrMissingColon))
		var se *SyntaxError
		require.True(t, errors.As(sheet.Errors[0], &se))
		assert.Equal(t, 1, se.Line)
	})

	t.Run("Empty value dropped", func(t *testing.T) {
		sheet := NewParser(`p { color: ; width: 1px }`).Parse()
		assert.Equal(t, []Declaration{d("width", "1px", false)}, firstStyleRule(t, sheet).Declarations)
	})

	t.Run("Bad selector skips rule only", func(t *testing.T) {
		sheet := NewParser("$$ { color: red }\n.ok { color: blue }").Parse()
		rules := sheet.StyleRules(nil)
		require.Len(t, rules, 1)
		assert.Equal(t, []string{"ok"}, rules[0].Selectors[0].Selectors[0].SimpleSelector.Classes)
		require.NotEmpty(t, sheet.Errors)
	})

	t.Run("Unterminated block", func(t *testing.T) {
		sheet := NewParser(`p { color: red`).Parse()
		assert.Equal(t, []Declaration{d("color", "red", false)}, firstStyleRule(t, sheet).Declarations)
		assert.Len(t, sheet.Errors, 1)
	})

	t.Run("Comments and CDO", func(t *testing.T) {
		sheet := NewParser(`<!-- /* Start */ body { margin: 0; } /* End */ -->`).Parse()
		assert.Equal(t, Property("margin"), firstStyleRule(t, sheet).Declarations[0].Property)
		assert.Empty(t, sheet.Errors)
	})
}

func TestParseSheets(t *testing.T) {
	inputs := make([]string, 32)
	for i := range inputs {
		inputs[i] = fmt.Sprintf(".c%d { width: %dpx }", i, i)
	}
	sheets, err := ParseSheets(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, sheets, len(inputs))
	for i, sheet := range sheets {
		rule := firstStyleRule(t, sheet)
		assert.Equal(t, fmt.Sprintf("c%d", i), rule.Selectors[0].Selectors[0].SimpleSelector.Classes[0])
		assert.Equal(t, Value(fmt.Sprintf("%dpx", i)), rule.Declarations[0].Value)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ParseSheets(ctx, inputs)
	assert.ErrorIs(t, err, context.Canceled)

	empty, err := ParseSheets(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, empty)
}
