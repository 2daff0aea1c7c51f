// internal/browser/style/style.go
package style

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/parser"
	"go.uber.org/zap"
)

// -- Constants and Configuration --

const (
	BaseFontSize      = 16.0 // Default root font size.
	DefaultLineHeight = 1.2  // Default multiplier for 'line-height: normal'.
)

// DefaultUserAgentCSS holds the user agent margins, paddings and typography.
// Display modes are seeded per tag by defaultDisplay.
const DefaultUserAgentCSS = `
body { margin: 8px; }

h1 { font-size: 2em; margin: 0.67em 0; font-weight: bold; }
h2 { font-size: 1.5em; margin: 0.83em 0; font-weight: bold; }
h3 { font-size: 1.17em; margin: 1em 0; font-weight: bold; }
h4 { font-size: 1em; margin: 1.33em 0; font-weight: bold; }
h5 { font-size: 0.83em; margin: 1.67em 0; font-weight: bold; }
h6 { font-size: 0.67em; margin: 2.33em 0; font-weight: bold; }
p, blockquote, figure, dl { margin: 1em 0; }
blockquote, figure { margin-left: 40px; margin-right: 40px; }
dd { margin-left: 40px; }
hr { margin: 0.5em 0; border: 1px solid gray; }

/* Lists */
ul, ol { padding-left: 40px; margin: 1em 0; }
ul { list-style-type: disc; }
ol { list-style-type: decimal; }
ul ul, ol ul, ul ol, ol ol { margin: 0; }

b, strong, th { font-weight: bold; }
i, em, cite, var, dfn { font-style: italic; }
pre, code, kbd, samp, tt { font-family: monospace; }
pre { white-space: pre; margin: 1em 0; }
center { text-align: center; }
small { font-size: smaller; }
big { font-size: larger; }
sub, sup { font-size: smaller; }
mark { background-color: yellow; }

/* Form controls */
input, button, textarea, select {
    box-sizing: border-box;
    margin: 2px 0;
    padding: 1px 2px;
    border: 1px solid #767676;
}
input { width: 170px; }
button { padding: 1px 6px; text-align: center; }

a { color: #0645AD; text-decoration: underline; }
`

// StyleOrigin orders the sources of declarations in the cascade.
type StyleOrigin int

const (
	OriginUserAgent StyleOrigin = iota
	OriginAuthor
	OriginInline
)

// DeclarationWithContext is a declaration tagged with everything the cascade sorts on.
type DeclarationWithContext struct {
	Declaration parser.Declaration
	Specificity parser.Specificity
	Origin      StyleOrigin
	Order       int
}

type indexedRule struct {
	rule   *parser.StyleRule
	origin StyleOrigin
	order  int
}

// ruleIndex buckets rules by the rightmost compound of each selector so an element
// only tests rules that could match it.
type ruleIndex struct {
	rules     []indexedRule
	byID      map[string][]int
	byClass   map[string][]int
	byTag     map[string][]int
	universal []int
}

func newRuleIndex() *ruleIndex {
	return &ruleIndex{
		byID:    make(map[string][]int),
		byClass: make(map[string][]int),
		byTag:   make(map[string][]int),
	}
}

func (ix *ruleIndex) add(rule *parser.StyleRule, origin StyleOrigin) {
	i := len(ix.rules)
	ix.rules = append(ix.rules, indexedRule{rule: rule, origin: origin, order: i})
	for _, sel := range rule.Selectors {
		if len(sel.Selectors) == 0 {
			continue
		}
		last := sel.Selectors[len(sel.Selectors)-1].SimpleSelector
		switch {
		case last.ID != "":
			ix.byID[last.ID] = append(ix.byID[last.ID], i)
		case len(last.Classes) > 0:
			ix.byClass[last.Classes[0]] = append(ix.byClass[last.Classes[0]], i)
		case last.TagName != "" && last.TagName != "*":
			ix.byTag[last.TagName] = append(ix.byTag[last.TagName], i)
		default:
			ix.universal = append(ix.universal, i)
		}
	}
}

// candidates returns rule indices that may match the element, ascending and unique.
func (ix *ruleIndex) candidates(n *dom.Node) []int {
	var out []int
	if n.ID != 0 {
		out = append(out, ix.byID[n.ID.String()]...)
	}
	for _, c := range n.Classes {
		out = append(out, ix.byClass[c.String()]...)
	}
	out = append(out, ix.byTag[n.Name.String()]...)
	out = append(out, ix.universal...)
	sort.Ints(out)
	uniq := out[:0]
	for i, v := range out {
		if i == 0 || v != out[i-1] {
			uniq = append(uniq, v)
		}
	}
	return uniq
}

// -- Style Resolver --

// Resolver runs the cascade: user agent defaults, author sheets, inline style.
type Resolver struct {
	logger          *zap.Logger
	userAgentSheets []parser.StyleSheet
	authorSheets    []parser.StyleSheet
	viewportWidth   float64
	viewportHeight  float64
}

// NewResolver creates a resolver preloaded with the user agent sheet.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	uaSheet := parser.NewParser(DefaultUserAgentCSS).Parse()
	return &Resolver{
		logger:          logger.Named("style"),
		userAgentSheets: []parser.StyleSheet{uaSheet},
		viewportWidth:   1024,
		viewportHeight:  768,
	}
}

// AddAuthorSheet adds a stylesheet provided by the webpage author.
func (r *Resolver) AddAuthorSheet(sheet parser.StyleSheet) {
	for _, err := range sheet.Errors {
		r.logger.Debug("Recovered CSS error", zap.Error(err))
	}
	r.authorSheets = append(r.authorSheets, sheet)
}

// SetViewport sets the dimensions used for viewport-relative units and media queries.
func (r *Resolver) SetViewport(width, height float64) {
	r.viewportWidth = width
	r.viewportHeight = height
}

func (r *Resolver) acceptGroup(rule parser.Rule) bool {
	switch v := rule.(type) {
	case *parser.MediaRule:
		return MatchMedia(v.Query, r.viewportWidth, r.viewportHeight)
	case *parser.SupportsRule:
		return SupportsCondition(v.Condition)
	case *parser.ContainerRule:
		// The viewport stands in for the query container.
		return MatchMedia(v.Query, r.viewportWidth, r.viewportHeight)
	}
	return true
}

func (r *Resolver) buildIndex() *ruleIndex {
	ix := newRuleIndex()
	for _, sheet := range r.userAgentSheets {
		for _, rule := range sheet.StyleRules(r.acceptGroup) {
			ix.add(rule, OriginUserAgent)
		}
	}
	for _, sheet := range r.authorSheets {
		for _, rule := range sheet.StyleRules(r.acceptGroup) {
			ix.add(rule, OriginAuthor)
		}
	}
	return ix
}

// Resolve computes a style for every node of doc, visiting elements in document order.
func (r *Resolver) Resolve(doc *dom.Document) Map {
	ix := r.buildIndex()
	matcher := NewMatcher(doc)
	styles := make(Map, doc.Len())

	rootStyle := Initial()
	rootStyle.Display = DisplayBlock
	styles[doc.Root()] = rootStyle

	doc.Walk(doc.Root(), func(id dom.NodeID, _ int) bool {
		if id == doc.Root() {
			return true
		}
		n := doc.Node(id)
		parent := styles.Get(n.Parent)
		switch n.Kind {
		case dom.ElementNode:
			styles[id] = r.computeElement(doc, matcher, ix, id, parent)
		case dom.TextNode:
			cs := inheritFrom(parent)
			cs.Display = DisplayInline
			if parent.Display == DisplayNone {
				cs.Display = DisplayNone
			}
			cs.Underline = parent.Underline
			styles[id] = cs
		default:
			cs := inheritFrom(parent)
			cs.Display = DisplayNone
			styles[id] = cs
		}
		return true
	})

	// Detached nodes still get an entry.
	for i := 0; i < doc.Len(); i++ {
		if _, ok := styles[dom.NodeID(i)]; !ok {
			cs := Initial()
			cs.Display = DisplayNone
			styles[dom.NodeID(i)] = cs
		}
	}
	r.logger.Debug("Resolved styles", zap.Int("nodes", len(styles)), zap.Int("rules", len(ix.rules)))
	return styles
}

// CalculateStyles returns the cascaded declared values for one element, shorthands expanded.
func (r *Resolver) CalculateStyles(doc *dom.Document, id dom.NodeID) map[parser.Property]parser.Value {
	return r.cascade(doc, NewMatcher(doc), r.buildIndex(), id)
}

func (r *Resolver) cascade(doc *dom.Document, matcher *Matcher, ix *ruleIndex, id dom.NodeID) map[parser.Property]parser.Value {
	var declarations []DeclarationWithContext
	order := 0
	n := doc.Node(id)

	for _, ri := range ix.candidates(n) {
		rule := ix.rules[ri]
		var best parser.Specificity
		matched := false
		for _, sel := range rule.rule.Selectors {
			if matcher.Matches(id, sel) {
				if s := sel.Specificity(); !matched || best.Less(s) {
					best = s
				}
				matched = true
			}
		}
		if !matched {
			continue
		}
		for _, decl := range rule.rule.Declarations {
			for _, d := range expandDeclaration(decl) {
				declarations = append(declarations, DeclarationWithContext{
					Declaration: d,
					Specificity: best,
					Origin:      rule.origin,
					Order:       order,
				})
				order++
			}
		}
	}

	if styleAttr, ok := doc.Attr(id, "style"); ok {
		inlineDecls, errs := parser.ParseDeclarations(styleAttr)
		for _, err := range errs {
			r.logger.Debug("Recovered inline style error", zap.Error(err))
		}
		for _, decl := range inlineDecls {
			for _, d := range expandDeclaration(decl) {
				declarations = append(declarations, DeclarationWithContext{
					Declaration: d,
					Specificity: parser.Specificity{A: 1},
					Origin:      OriginInline,
					Order:       order,
				})
				order++
			}
		}
	}

	sort.SliceStable(declarations, func(i, j int) bool {
		d1, d2 := declarations[i], declarations[j]
		p1, p2 := calculateCascadePriority(d1), calculateCascadePriority(d2)
		if p1 != p2 {
			return p1 < p2
		}
		if d1.Specificity != d2.Specificity {
			return d1.Specificity.Less(d2.Specificity)
		}
		return d1.Order < d2.Order
	})

	styles := make(map[parser.Property]parser.Value)
	for _, declCtx := range declarations {
		styles[declCtx.Declaration.Property] = declCtx.Declaration.Value
	}
	return styles
}

func calculateCascadePriority(d DeclarationWithContext) int {
	isImportant := d.Declaration.Important
	switch d.Origin {
	case OriginUserAgent:
		if isImportant {
			return 6
		}
		return 1
	case OriginAuthor:
		if isImportant {
			return 4
		}
		return 2
	case OriginInline:
		if isImportant {
			return 5
		}
		return 3
	}
	return 0
}

func (r *Resolver) computeElement(doc *dom.Document, matcher *Matcher, ix *ruleIndex, id dom.NodeID, parent *ComputedStyle) *ComputedStyle {
	props := r.cascade(doc, matcher, ix, id)
	cs := inheritFrom(parent)
	cs.Properties = props

	tag := doc.TagName(id)
	cs.Display = defaultDisplay(tag)
	if _, hidden := doc.Attr(id, "hidden"); hidden {
		cs.Display = DisplayNone
	}
	r.applyPresentationalHints(doc, id, cs)
	r.applyProperties(cs, parent, props)
	if parent.Display == DisplayNone {
		cs.Display = DisplayNone
	}
	return cs
}

// applyPresentationalHints maps legacy attributes (width, height, bgcolor, color, align).
func (r *Resolver) applyPresentationalHints(doc *dom.Document, id dom.NodeID, cs *ComputedStyle) {
	ctx := r.lengthContext(cs.FontSize, r.viewportWidth)
	if v, ok := doc.Attr(id, "width"); ok {
		cs.Width = parseSize(attrLength(v), ctx)
	}
	if v, ok := doc.Attr(id, "height"); ok {
		cs.Height = parseSize(attrLength(v), ctx)
	}
	if v, ok := doc.Attr(id, "bgcolor"); ok {
		if c, ok := ParseColor(v); ok {
			cs.BackgroundColor = c
		}
	}
	if v, ok := doc.Attr(id, "color"); ok && doc.TagName(id) == "font" {
		if c, ok := ParseColor(v); ok {
			cs.Color = c
		}
	}
	if v, ok := doc.Attr(id, "align"); ok {
		cs.TextAlign = parseTextAlign(strings.ToLower(v), cs.TextAlign)
	}
}

// attrLength adds px to bare numbers in presentational attributes.
func attrLength(v string) string {
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v + "px"
	}
	return v
}

func (r *Resolver) lengthContext(fontSize, reference float64) LengthContext {
	return LengthContext{
		FontSize:       fontSize,
		RootFontSize:   BaseFontSize,
		Reference:      reference,
		ViewportWidth:  r.viewportWidth,
		ViewportHeight: r.viewportHeight,
	}
}

var fontSizeKeywords = map[string]float64{
	"xx-small": 9, "x-small": 10, "small": 13, "medium": 16, "large": 18, "x-large": 24, "xx-large": 32, "xxx-large": 48,
}

// applyProperties converts cascaded values into the dense record. font-size goes
// first because em units elsewhere depend on it.
func (r *Resolver) applyProperties(cs, parent *ComputedStyle, props map[parser.Property]parser.Value) {
	get := func(p parser.Property) (string, bool) {
		v, ok := props[p]
		if !ok {
			return "", false
		}
		s := strings.TrimSpace(strings.ToLower(string(v)))
		return s, s != "inherit" && s != "initial" && s != "unset"
	}

	if v, ok := props["font-size"]; ok {
		s := strings.TrimSpace(strings.ToLower(string(v)))
		switch {
		case s == "inherit" || s == "unset":
			cs.FontSize = parent.FontSize
		case s == "initial":
			cs.FontSize = BaseFontSize
		case s == "smaller":
			cs.FontSize = parent.FontSize / 1.2
		case s == "larger":
			cs.FontSize = parent.FontSize * 1.2
		default:
			if kw, isKw := fontSizeKeywords[s]; isKw {
				cs.FontSize = kw
			} else if px, ok := parseLength(s, r.lengthContext(parent.FontSize, parent.FontSize)); ok && px > 0 {
				cs.FontSize = px
			}
		}
		cs.LineHeight = cs.FontSize * DefaultLineHeight
	}
	ctx := r.lengthContext(cs.FontSize, r.viewportWidth)

	if v, ok := get("line-height"); ok {
		cs.LineHeight = r.resolveLineHeight(v, cs.FontSize)
	} else if strings.EqualFold(string(props["line-height"]), "inherit") {
		cs.LineHeight = parent.LineHeight
	}

	if v, ok := get("display"); ok {
		cs.Display = parseDisplay(v, cs.Display)
	}
	if v, ok := get("position"); ok {
		switch v {
		case "relative":
			cs.Position = PositionRelative
		case "absolute":
			cs.Position = PositionAbsolute
		case "fixed":
			cs.Position = PositionFixed
		default:
			cs.Position = PositionStatic
		}
	}
	if v, ok := get("box-sizing"); ok {
		cs.BoxSizing = ContentBox
		if v == "border-box" {
			cs.BoxSizing = BorderBox
		}
	}

	edge := func(p parser.Property) float64 {
		v, ok := get(p)
		if !ok {
			return 0
		}
		return ParseLength(v, ctx)
	}
	cs.Margin = Edges{edge("margin-top"), edge("margin-right"), edge("margin-bottom"), edge("margin-left")}
	cs.Padding = Edges{
		math.Max(0, edge("padding-top")), math.Max(0, edge("padding-right")),
		math.Max(0, edge("padding-bottom")), math.Max(0, edge("padding-left")),
	}
	border := func(side string) float64 {
		styleVal, _ := get(parser.Property("border-" + side + "-style"))
		if styleVal == "" || styleVal == "none" || styleVal == "hidden" {
			return 0
		}
		w, ok := get(parser.Property("border-" + side + "-width"))
		if !ok {
			return 3
		}
		switch w {
		case "thin":
			return 1
		case "medium":
			return 3
		case "thick":
			return 5
		}
		return math.Max(0, ParseLength(w, ctx))
	}
	cs.Border = Edges{border("top"), border("right"), border("bottom"), border("left")}

	for prop, dst := range map[parser.Property]*Size{
		"width": &cs.Width, "height": &cs.Height,
		"min-width": &cs.MinWidth, "max-width": &cs.MaxWidth,
		"min-height": &cs.MinHeight, "max-height": &cs.MaxHeight,
	} {
		if v, ok := get(prop); ok {
			*dst = parseSize(v, ctx)
		}
	}

	if v, ok := props["color"]; ok {
		s := strings.TrimSpace(strings.ToLower(string(v)))
		if s == "inherit" || s == "currentcolor" {
			cs.Color = parent.Color
		} else if c, ok := ParseColor(s); ok {
			cs.Color = c
		}
	}
	if v, ok := get("background-color"); ok {
		if v == "currentcolor" {
			cs.BackgroundColor = cs.Color
		} else if c, ok := ParseColor(v); ok {
			cs.BackgroundColor = c
		}
	} else if strings.EqualFold(string(props["background-color"]), "inherit") {
		cs.BackgroundColor = parent.BackgroundColor
	}
	cs.BorderColor = cs.Color
	if v, ok := get("border-color"); ok {
		if c, ok := ParseColor(strings.Fields(v)[0]); ok {
			cs.BorderColor = c
		}
	}

	if v, ok := get("font-weight"); ok {
		cs.FontWeight = parseFontWeight(v, parent.FontWeight)
	}
	if v, ok := get("font-style"); ok {
		cs.Italic = v == "italic" || v == "oblique"
	}
	if v, ok := get("font-family"); ok {
		cs.FontFamily = strings.Trim(strings.TrimSpace(strings.Split(v, ",")[0]), `"'`)
	}
	decoration, ok := get("text-decoration-line")
	if !ok {
		decoration, ok = get("text-decoration")
	}
	if ok {
		cs.Underline = strings.Contains(decoration, "underline")
	} else {
		cs.Underline = parent.Underline
	}
	if v, ok := get("text-align"); ok {
		cs.TextAlign = parseTextAlign(v, cs.TextAlign)
	}
	if v, ok := get("white-space"); ok {
		switch v {
		case "pre":
			cs.WhiteSpace = WhiteSpacePre
		case "nowrap":
			cs.WhiteSpace = WhiteSpaceNoWrap
		case "pre-wrap":
			cs.WhiteSpace = WhiteSpacePreWrap
		case "pre-line":
			cs.WhiteSpace = WhiteSpacePreLine
		default:
			cs.WhiteSpace = WhiteSpaceNormal
		}
	}
	if v, ok := get("visibility"); ok {
		switch v {
		case "hidden":
			cs.Visibility = VisibilityHidden
		case "collapse":
			cs.Visibility = VisibilityCollapse
		default:
			cs.Visibility = VisibilityVisible
		}
	}
	if v, ok := get("opacity"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
			if strings.HasSuffix(v, "%") {
				f /= 100
			}
			cs.Opacity = clamp(f, 0, 1)
		}
	}
	if v, ok := get("list-style-type"); ok {
		cs.ListStyleType = v
	} else if v, ok := get("list-style"); ok {
		for _, part := range strings.Fields(v) {
			if part != "inside" && part != "outside" && !strings.HasPrefix(part, "url(") {
				cs.ListStyleType = part
				break
			}
		}
	}
	if v, ok := get("flex-direction"); ok {
		switch v {
		case "column":
			cs.FlexDirection = FlexDirectionColumn
		case "row-reverse":
			cs.FlexDirection = FlexDirectionRowReverse
		case "column-reverse":
			cs.FlexDirection = FlexDirectionColumnReverse
		default:
			cs.FlexDirection = FlexDirectionRow
		}
	}
	if v, ok := get("justify-content"); ok {
		switch v {
		case "flex-end", "end", "right":
			cs.JustifyContent = JustifyFlexEnd
		case "center":
			cs.JustifyContent = JustifyCenter
		case "space-between":
			cs.JustifyContent = JustifySpaceBetween
		case "space-around":
			cs.JustifyContent = JustifySpaceAround
		case "space-evenly":
			cs.JustifyContent = JustifySpaceEvenly
		default:
			cs.JustifyContent = JustifyFlexStart
		}
	}
	if v, ok := get("flex-grow"); ok {
		if f, err := parseFloat(v); err == nil {
			cs.FlexGrow = math.Max(0, f)
		}
	}
	if v, ok := get("flex-shrink"); ok {
		if f, err := parseFloat(v); err == nil {
			cs.FlexShrink = math.Max(0, f)
		}
	}
}

func (r *Resolver) resolveLineHeight(value string, fontSize float64) float64 {
	value = strings.TrimSpace(value)
	if value == "normal" {
		return fontSize * DefaultLineHeight
	}
	if val, err := strconv.ParseFloat(value, 64); err == nil {
		return fontSize * val
	}
	if px, ok := parseLength(value, r.lengthContext(fontSize, fontSize)); ok {
		return px
	}
	return fontSize * DefaultLineHeight
}

func parseDisplay(v string, fallback DisplayType) DisplayType {
	switch v {
	case "block", "flow-root":
		return DisplayBlock
	case "inline":
		return DisplayInline
	case "inline-block", "inline-flex", "inline-grid":
		return DisplayInlineBlock
	case "list-item":
		return DisplayListItem
	case "flex":
		return DisplayFlex
	case "grid":
		return DisplayGrid
	case "table":
		return DisplayTable
	case "table-row":
		return DisplayTableRow
	case "table-cell":
		return DisplayTableCell
	case "none":
		return DisplayNone
	case "contents":
		return DisplayBlock
	}
	return fallback
}

func parseTextAlign(v string, fallback TextAlign) TextAlign {
	switch v {
	case "left", "start":
		return TextAlignLeft
	case "right", "end":
		return TextAlignRight
	case "center", "middle":
		return TextAlignCenter
	case "justify":
		return TextAlignJustify
	}
	return fallback
}

func parseFontWeight(v string, parent int) int {
	switch v {
	case "normal":
		return 400
	case "bold":
		return 700
	case "bolder":
		if parent < 600 {
			return 700
		}
		return 900
	case "lighter":
		if parent > 500 {
			return 400
		}
		return 100
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 1000 {
		return n
	}
	return parent
}

// defaultDisplay seeds the display mode by tag.
func defaultDisplay(tag string) DisplayType {
	switch tag {
	case "html", "body", "div", "p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "dl", "dt", "dd", "form", "header", "footer", "section", "article", "nav", "main",
		"aside", "address", "blockquote", "figure", "figcaption", "fieldset", "hr", "pre", "center",
		"details", "summary", "menu", "legend", "caption":
		return DisplayBlock
	case "li":
		return DisplayListItem
	case "table":
		return DisplayTable
	case "tr":
		return DisplayTableRow
	case "td", "th":
		return DisplayTableCell
	case "thead", "tbody", "tfoot":
		return DisplayBlock
	case "input", "button", "textarea", "select", "img", "video", "canvas", "svg", "iframe", "object", "embed":
		return DisplayInlineBlock
	case "head", "title", "meta", "link", "style", "script", "noscript", "template", "base", "param", "source", "track", "area", "datalist":
		return DisplayNone
	default:
		return DisplayInline
	}
}

// knownProperties lists what applyProperties understands; @supports tests against it.
var knownProperties = map[string]bool{
	"display": true, "position": true, "box-sizing": true, "margin": true, "padding": true, "border": true,
	"width": true, "height": true, "min-width": true, "max-width": true, "min-height": true, "max-height": true,
	"font-size": true, "font-weight": true, "font-style": true, "font-family": true, "font": true, "line-height": true,
	"color": true, "background": true, "background-color": true, "border-color": true, "border-width": true,
	"text-align": true, "white-space": true, "visibility": true, "opacity": true, "list-style": true,
	"list-style-type": true, "flex": true, "flex-direction": true, "justify-content": true, "flex-grow": true,
	"flex-shrink": true, "text-decoration": true,
}
