// internal/script/ast/parser.go
package ast

import (
	"fmt"
	"strconv"

	"github.com/xkilldash9x/loupe/internal/script/lexer"
)

type bailout struct{ err error }

type parser struct {
	toks      []lexer.Token
	pos       int
	funcDepth int
	loopDepth int
}

// Parse parses and resolves a script.
func Parse(src string) (prog *Program, err error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()

	prog = &Program{}
	for p.peek().Kind != lexer.EOF {
		prog.Body = append(prog.Body, p.statement())
	}
	prog.Func = &Function{Name: "<script>", Body: prog.Body}
	if err := Resolve(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// -- Token helpers --

func (p *parser) peek() lexer.Token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) lexer.Token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() lexer.Token {
	t := p.toks[p.pos]
	if t.Kind != lexer.EOF {
		p.pos++
	}
	return t
}

func (p *parser) at(s string) bool { return p.peek().Is(s) }

func (p *parser) eat(s string) bool {
	if p.at(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(s string) lexer.Token {
	t := p.peek()
	if !t.Is(s) {
		p.fail(t, "expected %q but found %s", s, t)
	}
	return p.next()
}

func (p *parser) ident() lexer.Token {
	t := p.peek()
	if t.Kind != lexer.Ident {
		p.fail(t, "expected identifier but found %s", t)
	}
	return p.next()
}

func (p *parser) fail(t lexer.Token, format string, args ...any) {
	panic(bailout{&lexer.SyntaxError{Line: t.Line, Col: t.Col, Msg: fmt.Sprintf(format, args...)}})
}

func pos(t lexer.Token) Pos { return Pos{Line: t.Line, Col: t.Col} }

// semicolon consumes a statement terminator, inserting one where a line
// break, a closing brace or the end of input allows it.
func (p *parser) semicolon() {
	if p.eat(";") {
		return
	}
	t := p.peek()
	if t.Is("}") || t.Kind == lexer.EOF || t.NewlineBefore {
		return
	}
	p.fail(t, "unexpected %s", t)
}

// -- Statements --

func (p *parser) statement() Stmt {
	t := p.peek()
	switch {
	case t.Is("{"):
		return p.block()
	case t.Is("var"), t.Is("let"), t.Is("const"):
		d := p.varDecl(true)
		p.semicolon()
		return d
	case t.Is("function"):
		p.next()
		fn := p.function(pos(t), true)
		return &FuncDecl{At: pos(t), Func: fn}
	case t.Is("return"):
		p.next()
		if p.funcDepth == 0 {
			p.fail(t, "return outside of a function")
		}
		r := &Return{At: pos(t)}
		n := p.peek()
		if !n.Is(";") && !n.Is("}") && n.Kind != lexer.EOF && !n.NewlineBefore {
			r.Value = p.expression()
		}
		p.semicolon()
		return r
	case t.Is("if"):
		p.next()
		p.expect("(")
		s := &If{At: pos(t), Test: p.expression()}
		p.expect(")")
		s.Then = p.statement()
		if p.eat("else") {
			s.Else = p.statement()
		}
		return s
	case t.Is("while"):
		p.next()
		p.expect("(")
		s := &While{At: pos(t), Test: p.expression()}
		p.expect(")")
		s.Body = p.loopBody()
		return s
	case t.Is("do"):
		p.next()
		s := &DoWhile{At: pos(t), Body: p.loopBody()}
		p.expect("while")
		p.expect("(")
		s.Test = p.expression()
		p.expect(")")
		p.eat(";")
		return s
	case t.Is("for"):
		return p.forStatement()
	case t.Is("break"), t.Is("continue"):
		p.next()
		if p.loopDepth == 0 {
			p.fail(t, "%s outside of a loop", t.Text)
		}
		p.semicolon()
		if t.Text == "break" {
			return &Break{At: pos(t)}
		}
		return &Continue{At: pos(t)}
	case t.Is("try"):
		return p.tryStatement()
	case t.Is("throw"):
		p.next()
		if p.peek().NewlineBefore {
			p.fail(p.peek(), "illegal newline after throw")
		}
		s := &Throw{At: pos(t), X: p.expression()}
		p.semicolon()
		return s
	case t.Is(";"):
		p.next()
		return &Empty{At: pos(t)}
	}
	s := &ExprStmt{At: pos(t), X: p.expression()}
	p.semicolon()
	return s
}

func (p *parser) loopBody() Stmt {
	p.loopDepth++
	defer func() { p.loopDepth-- }()
	return p.statement()
}

func (p *parser) block() *Block {
	t := p.expect("{")
	b := &Block{At: pos(t)}
	for !p.at("}") {
		if p.peek().Kind == lexer.EOF {
			p.fail(p.peek(), "unterminated block")
		}
		b.Body = append(b.Body, p.statement())
	}
	p.next()
	return b
}

func (p *parser) varDecl(requireConstInit bool) *VarDecl {
	t := p.next()
	d := &VarDecl{At: pos(t), Kind: t.Text}
	for {
		name := p.ident()
		decl := &Declarator{At: pos(name), Name: name.Text}
		if p.eat("=") {
			decl.Init = p.assignment()
		} else if d.Kind == "const" && requireConstInit {
			p.fail(name, "missing initializer in const declaration")
		}
		d.Decls = append(d.Decls, decl)
		if !p.eat(",") {
			return d
		}
	}
}

func (p *parser) forStatement() Stmt {
	t := p.next()
	p.expect("(")
	s := &For{At: pos(t)}
	switch n := p.peek(); {
	case n.Is(";"):
	case n.Is("var"), n.Is("let"), n.Is("const"):
		s.Init = p.varDecl(true)
	default:
		s.Init = &ExprStmt{At: pos(n), X: p.expression()}
	}
	p.expect(";")
	if !p.at(";") {
		s.Test = p.expression()
	}
	p.expect(";")
	if !p.at(")") {
		s.Update = p.expression()
	}
	p.expect(")")
	s.Body = p.loopBody()
	return s
}

func (p *parser) tryStatement() Stmt {
	t := p.next()
	s := &Try{At: pos(t), Block: p.block()}
	if p.eat("catch") {
		if p.eat("(") {
			s.Param = p.ident().Text
			p.expect(")")
		}
		s.Handler = p.block()
	}
	if p.eat("finally") {
		s.Finally = p.block()
	}
	if s.Handler == nil && s.Finally == nil {
		p.fail(p.peek(), "missing catch or finally after try")
	}
	return s
}

// function parses the parameter list and body after the function keyword.
func (p *parser) function(at Pos, requireName bool) *Function {
	fn := &Function{At: at}
	if p.peek().Kind == lexer.Ident {
		fn.Name = p.next().Text
		fn.SelfNamed = !requireName
	} else if requireName {
		p.fail(p.peek(), "function declaration requires a name")
	}
	fn.Params = p.params()
	fn.Body = p.functionBody()
	return fn
}

func (p *parser) params() []string {
	p.expect("(")
	var names []string
	for !p.at(")") {
		names = append(names, p.ident().Text)
		if !p.eat(",") {
			break
		}
	}
	p.expect(")")
	return names
}

func (p *parser) functionBody() []Stmt {
	p.funcDepth++
	loops := p.loopDepth
	p.loopDepth = 0
	defer func() {
		p.funcDepth--
		p.loopDepth = loops
	}()
	return p.block().Body
}

// -- Expressions --

func (p *parser) expression() Expr {
	x := p.assignment()
	if !p.at(",") {
		return x
	}
	seq := &Sequence{At: x.Position(), Exprs: []Expr{x}}
	for p.eat(",") {
		seq.Exprs = append(seq.Exprs, p.assignment())
	}
	return seq
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true, "**=": true,
	"<<=": true, ">>=": true, ">>>=": true, "&=": true, "|=": true, "^=": true,
}

func (p *parser) assignment() Expr {
	if fn := p.tryArrow(); fn != nil {
		return fn
	}
	x := p.conditional()
	t := p.peek()
	if t.Kind != lexer.Punct || !assignOps[t.Text] {
		return x
	}
	switch x.(type) {
	case *Ident, *Member, *Index:
	default:
		p.fail(t, "invalid assignment target")
	}
	p.next()
	return &Assign{At: pos(t), Op: t.Text, Target: x, Value: p.assignment()}
}

// tryArrow parses an arrow function if one starts at the current token.
func (p *parser) tryArrow() Expr {
	t := p.peek()
	var params []string
	switch {
	case t.Kind == lexer.Ident && p.peekAt(1).Is("=>"):
		params = []string{p.next().Text}
	case t.Is("(") && p.arrowAhead():
		params = p.params()
	default:
		return nil
	}
	arrow := p.expect("=>")
	if arrow.NewlineBefore {
		p.fail(arrow, "illegal newline before =>")
	}
	fn := &Function{At: pos(t), Params: params, Arrow: true}
	if p.at("{") {
		fn.Body = p.functionBody()
	} else {
		p.funcDepth++
		body := p.assignment()
		p.funcDepth--
		fn.Body = []Stmt{&Return{At: body.Position(), Value: body}}
	}
	return &FuncLit{At: pos(t), Func: fn}
}

// arrowAhead reports whether the parenthesis at the cursor closes before a =>.
func (p *parser) arrowAhead() bool {
	depth := 0
	for i := p.pos; i < len(p.toks); i++ {
		t := p.toks[i]
		switch {
		case t.Kind == lexer.EOF:
			return false
		case t.Is("("), t.Is("["), t.Is("{"):
			depth++
		case t.Is(")"), t.Is("]"), t.Is("}"):
			depth--
			if depth == 0 {
				return i+1 < len(p.toks) && p.toks[i+1].Is("=>")
			}
		}
	}
	return false
}

func (p *parser) conditional() Expr {
	test := p.binary(1)
	t := p.peek()
	if !p.eat("?") {
		return test
	}
	c := &Cond{At: pos(t), Test: test, Then: p.assignment()}
	p.expect(":")
	c.Else = p.assignment()
	return c
}

var binaryPrec = map[string]int{
	"??": 1, "||": 2, "&&": 3, "|": 4, "^": 5, "&": 6,
	"==": 7, "!=": 7, "===": 7, "!==": 7,
	"<": 8, ">": 8, "<=": 8, ">=": 8, "instanceof": 8, "in": 8,
	"<<": 9, ">>": 9, ">>>": 9,
	"+": 10, "-": 10,
	"*": 11, "/": 11, "%": 11,
	"**": 12,
}

func (p *parser) binary(minPrec int) Expr {
	left := p.unary()
	for {
		t := p.peek()
		if t.Kind != lexer.Punct && t.Kind != lexer.Keyword {
			return left
		}
		prec, ok := binaryPrec[t.Text]
		if !ok || prec < minPrec {
			return left
		}
		p.next()
		var right Expr
		if t.Text == "**" {
			right = p.binary(prec)
		} else {
			right = p.binary(prec + 1)
		}
		switch t.Text {
		case "&&", "||", "??":
			left = &Logical{At: pos(t), Op: t.Text, L: left, R: right}
		default:
			left = &Binary{At: pos(t), Op: t.Text, L: left, R: right}
		}
	}
}

func (p *parser) unary() Expr {
	t := p.peek()
	switch {
	case t.Is("!"), t.Is("-"), t.Is("+"), t.Is("~"), t.Is("typeof"), t.Is("void"), t.Is("delete"):
		p.next()
		return &Unary{At: pos(t), Op: t.Text, X: p.unary()}
	case t.Is("++"), t.Is("--"):
		p.next()
		x := p.unary()
		p.checkUpdateTarget(t, x)
		return &Update{At: pos(t), Op: t.Text, Prefix: true, X: x}
	}
	x := p.callMember()
	if n := p.peek(); (n.Is("++") || n.Is("--")) && !n.NewlineBefore {
		p.next()
		p.checkUpdateTarget(n, x)
		return &Update{At: pos(n), Op: n.Text, X: x}
	}
	return x
}

func (p *parser) checkUpdateTarget(t lexer.Token, x Expr) {
	switch x.(type) {
	case *Ident, *Member, *Index:
	default:
		p.fail(t, "invalid %s operand", t.Text)
	}
}

func (p *parser) callMember() Expr {
	var x Expr
	if t := p.peek(); t.Is("new") {
		p.next()
		callee := p.memberOnly()
		n := &New{At: pos(t), Callee: callee}
		if p.at("(") {
			n.Args = p.args()
		}
		x = n
	} else {
		x = p.primary()
	}
	for {
		t := p.peek()
		switch {
		case t.Is("."):
			p.next()
			x = &Member{At: pos(t), Obj: x, Name: p.propertyName()}
		case t.Is("["):
			p.next()
			idx := p.expression()
			p.expect("]")
			x = &Index{At: pos(t), Obj: x, Index: idx}
		case t.Is("("):
			x = &Call{At: pos(t), Callee: x, Args: p.args()}
		default:
			return x
		}
	}
}

// memberOnly parses a new-expression callee, which stops before arguments.
func (p *parser) memberOnly() Expr {
	var x Expr
	if t := p.peek(); t.Is("new") {
		p.next()
		n := &New{At: pos(t), Callee: p.memberOnly()}
		if p.at("(") {
			n.Args = p.args()
		}
		x = n
	} else {
		x = p.primary()
	}
	for {
		t := p.peek()
		switch {
		case t.Is("."):
			p.next()
			x = &Member{At: pos(t), Obj: x, Name: p.propertyName()}
		case t.Is("["):
			p.next()
			idx := p.expression()
			p.expect("]")
			x = &Index{At: pos(t), Obj: x, Index: idx}
		default:
			return x
		}
	}
}

func (p *parser) propertyName() string {
	t := p.peek()
	if t.Kind != lexer.Ident && t.Kind != lexer.Keyword {
		p.fail(t, "expected property name but found %s", t)
	}
	return p.next().Text
}

func (p *parser) args() []Expr {
	p.expect("(")
	var args []Expr
	for !p.at(")") {
		args = append(args, p.assignment())
		if !p.eat(",") {
			break
		}
	}
	p.expect(")")
	return args
}

func (p *parser) primary() Expr {
	t := p.peek()
	switch t.Kind {
	case lexer.Number:
		p.next()
		return &NumberLit{At: pos(t), Value: t.Num}
	case lexer.String:
		p.next()
		return &StringLit{At: pos(t), Value: t.Value}
	case lexer.Ident:
		p.next()
		if t.Text == "undefined" {
			return &UndefinedLit{At: pos(t)}
		}
		return &Ident{At: pos(t), Name: t.Text}
	}
	switch {
	case t.Is("true"), t.Is("false"):
		p.next()
		return &BoolLit{At: pos(t), Value: t.Text == "true"}
	case t.Is("null"):
		p.next()
		return &NullLit{At: pos(t)}
	case t.Is("this"):
		p.next()
		return &ThisExpr{At: pos(t)}
	case t.Is("("):
		p.next()
		x := p.expression()
		p.expect(")")
		return x
	case t.Is("["):
		return p.arrayLiteral()
	case t.Is("{"):
		return p.objectLiteral()
	case t.Is("function"):
		p.next()
		return &FuncLit{At: pos(t), Func: p.function(pos(t), false)}
	}
	p.fail(t, "unexpected %s", t)
	return nil
}

func (p *parser) arrayLiteral() Expr {
	t := p.expect("[")
	a := &ArrayLit{At: pos(t)}
	for !p.at("]") {
		if n := p.peek(); n.Is(",") {
			// Elision.
			p.next()
			a.Elems = append(a.Elems, &UndefinedLit{At: pos(n)})
			continue
		}
		a.Elems = append(a.Elems, p.assignment())
		if !p.eat(",") {
			break
		}
	}
	p.expect("]")
	return a
}

func (p *parser) objectLiteral() Expr {
	t := p.expect("{")
	o := &ObjectLit{At: pos(t)}
	for !p.at("}") {
		k := p.next()
		var key string
		switch k.Kind {
		case lexer.Ident, lexer.Keyword:
			key = k.Text
		case lexer.String:
			key = k.Value
		case lexer.Number:
			key = strconv.FormatFloat(k.Num, 'f', -1, 64)
		default:
			p.fail(k, "unexpected %s in object literal", k)
		}
		switch {
		case p.eat(":"):
			o.Props = append(o.Props, Property{Key: key, Value: p.assignment()})
		case p.at("("):
			fn := &Function{At: pos(k), Name: key, Params: p.params()}
			fn.Body = p.functionBody()
			o.Props = append(o.Props, Property{Key: key, Value: &FuncLit{At: pos(k), Func: fn}})
		case k.Kind == lexer.Ident:
			o.Props = append(o.Props, Property{Key: key, Value: &Ident{At: pos(k), Name: key}})
		default:
			p.fail(k, "expected ':' after property name")
		}
		if !p.eat(",") {
			break
		}
	}
	p.expect("}")
	return o
}
