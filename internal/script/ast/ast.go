// internal/script/ast/ast.go
package ast

// Pos is a 1-based source position.
type Pos struct {
	Line, Col int
}

// Node is any syntax tree node.
type Node interface {
	Position() Pos
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// -- Expressions --

type (
	NumberLit struct {
		At    Pos
		Value float64
	}

	StringLit struct {
		At    Pos
		Value string
	}

	BoolLit struct {
		At    Pos
		Value bool
	}

	NullLit struct{ At Pos }

	UndefinedLit struct{ At Pos }

	// Ident is a variable reference. Ref is filled in by Resolve.
	Ident struct {
		At   Pos
		Name string
		Ref  Ref
	}

	// ThisExpr has a local or upvalue Ref inside arrow functions and in
	// functions whose arrows capture this.
	ThisExpr struct {
		At  Pos
		Ref Ref
	}

	ArrayLit struct {
		At    Pos
		Elems []Expr
	}

	Property struct {
		Key   string
		Value Expr
	}

	ObjectLit struct {
		At    Pos
		Props []Property
	}

	FuncLit struct {
		At   Pos
		Func *Function
	}

	// Unary covers - + ! ~ typeof void delete.
	Unary struct {
		At Pos
		Op string
		X  Expr
	}

	// Update is ++ or -- in prefix or postfix position.
	Update struct {
		At     Pos
		Op     string
		Prefix bool
		X      Expr
	}

	Binary struct {
		At   Pos
		Op   string
		L, R Expr
	}

	// Logical is a short-circuiting && || or ??.
	Logical struct {
		At   Pos
		Op   string
		L, R Expr
	}

	// Assign is = or a compound operator such as +=. Target is an Ident,
	// Member or Index.
	Assign struct {
		At     Pos
		Op     string
		Target Expr
		Value  Expr
	}

	Cond struct {
		At               Pos
		Test, Then, Else Expr
	}

	Call struct {
		At     Pos
		Callee Expr
		Args   []Expr
	}

	New struct {
		At     Pos
		Callee Expr
		Args   []Expr
	}

	// Member is obj.name.
	Member struct {
		At   Pos
		Obj  Expr
		Name string
	}

	// Index is obj[index].
	Index struct {
		At    Pos
		Obj   Expr
		Index Expr
	}

	Sequence struct {
		At    Pos
		Exprs []Expr
	}
)

// -- Statements --

type (
	// VarDecl declares one or more bindings; Kind is var, let or const.
	VarDecl struct {
		At    Pos
		Kind  string
		Decls []*Declarator
	}

	Declarator struct {
		At      Pos
		Name    string
		Init    Expr
		Binding *Binding
	}

	FuncDecl struct {
		At      Pos
		Func    *Function
		Binding *Binding
	}

	ExprStmt struct {
		At Pos
		X  Expr
	}

	Return struct {
		At    Pos
		Value Expr
	}

	If struct {
		At   Pos
		Test Expr
		Then Stmt
		Else Stmt
	}

	While struct {
		At   Pos
		Test Expr
		Body Stmt
	}

	DoWhile struct {
		At   Pos
		Body Stmt
		Test Expr
	}

	// For is a C-style loop; any of Init, Test and Update may be nil.
	For struct {
		At     Pos
		Init   Stmt
		Test   Expr
		Update Expr
		Body   Stmt
		Scope  *Scope
	}

	Break struct{ At Pos }

	Continue struct{ At Pos }

	Block struct {
		At    Pos
		Body  []Stmt
		Scope *Scope
	}

	// Try has a Handler, a Finally, or both. Param may be empty.
	Try struct {
		At           Pos
		Block        *Block
		Param        string
		ParamBinding *Binding
		Handler      *Block
		Finally      *Block
	}

	Throw struct {
		At Pos
		X  Expr
	}

	Empty struct{ At Pos }
)

// Function is a function body shared by declarations, expressions and
// arrows. Scope data is filled in by Resolve.
type Function struct {
	At     Pos
	Name   string
	Params []string
	Body   []Stmt
	Arrow  bool
	// SelfNamed marks a named function expression, whose name is bound
	// inside its own body.
	SelfNamed bool

	// ParamBindings are the parameter slots, in order.
	ParamBindings []*Binding
	// SelfBinding holds a named function expression's own name.
	SelfBinding *Binding
	// ThisBinding is set when a nested arrow function captures this.
	ThisBinding *Binding
	Scope       *Scope
	// NumSlots is the number of local slots, parameters included.
	NumSlots int
	// Upvalues describe what a closure over this function captures.
	Upvalues []UpvalueDesc
}

// Program is a parsed script. Top-level declarations are globals.
type Program struct {
	Body []Stmt
	Func *Function
}

func (n *NumberLit) Position() Pos    { return n.At }
func (n *StringLit) Position() Pos    { return n.At }
func (n *BoolLit) Position() Pos      { return n.At }
func (n *NullLit) Position() Pos      { return n.At }
func (n *UndefinedLit) Position() Pos { return n.At }
func (n *Ident) Position() Pos        { return n.At }
func (n *ThisExpr) Position() Pos     { return n.At }
func (n *ArrayLit) Position() Pos     { return n.At }
func (n *ObjectLit) Position() Pos    { return n.At }
func (n *FuncLit) Position() Pos      { return n.At }
func (n *Unary) Position() Pos        { return n.At }
func (n *Update) Position() Pos       { return n.At }
func (n *Binary) Position() Pos       { return n.At }
func (n *Logical) Position() Pos      { return n.At }
func (n *Assign) Position() Pos       { return n.At }
func (n *Cond) Position() Pos         { return n.At }
func (n *Call) Position() Pos         { return n.At }
func (n *New) Position() Pos          { return n.At }
func (n *Member) Position() Pos       { return n.At }
func (n *Index) Position() Pos        { return n.At }
func (n *Sequence) Position() Pos     { return n.At }

func (*NumberLit) exprNode()    {}
func (*StringLit) exprNode()    {}
func (*BoolLit) exprNode()      {}
func (*NullLit) exprNode()      {}
func (*UndefinedLit) exprNode() {}
func (*Ident) exprNode()        {}
func (*ThisExpr) exprNode()     {}
func (*ArrayLit) exprNode()     {}
func (*ObjectLit) exprNode()    {}
func (*FuncLit) exprNode()      {}
func (*Unary) exprNode()        {}
func (*Update) exprNode()       {}
func (*Binary) exprNode()       {}
func (*Logical) exprNode()      {}
func (*Assign) exprNode()       {}
func (*Cond) exprNode()         {}
func (*Call) exprNode()         {}
func (*New) exprNode()          {}
func (*Member) exprNode()       {}
func (*Index) exprNode()        {}
func (*Sequence) exprNode()     {}

func (n *VarDecl) Position() Pos  { return n.At }
func (n *FuncDecl) Position() Pos { return n.At }
func (n *ExprStmt) Position() Pos { return n.At }
func (n *Return) Position() Pos   { return n.At }
func (n *If) Position() Pos       { return n.At }
func (n *While) Position() Pos    { return n.At }
func (n *DoWhile) Position() Pos  { return n.At }
func (n *For) Position() Pos      { return n.At }
func (n *Break) Position() Pos    { return n.At }
func (n *Continue) Position() Pos { return n.At }
func (n *Block) Position() Pos    { return n.At }
func (n *Try) Position() Pos      { return n.At }
func (n *Throw) Position() Pos    { return n.At }
func (n *Empty) Position() Pos    { return n.At }

func (*VarDecl) stmtNode()  {}
func (*FuncDecl) stmtNode() {}
func (*ExprStmt) stmtNode() {}
func (*Return) stmtNode()   {}
func (*If) stmtNode()       {}
func (*While) stmtNode()    {}
func (*DoWhile) stmtNode()  {}
func (*For) stmtNode()      {}
func (*Break) stmtNode()    {}
func (*Continue) stmtNode() {}
func (*Block) stmtNode()    {}
func (*Try) stmtNode()      {}
func (*Throw) stmtNode()    {}
func (*Empty) stmtNode()    {}
