package template

// node is the parsed representation of a single `{{ expression }}` body.
// It is cached by source string in Resolver's AST cache so a given template
// string is parsed once regardless of how many times it is resolved.
type node interface{ exprNode() }

type literalNode struct{ value any }

// pathNode is a bare identifier at the start of an expression, e.g. the
// "trigger" in "trigger.item.attributes.Priority". Subsequent ".segment"
// pieces become propertyNode/callNode wrappers built by the parser.
type pathNode struct{ name string }

// callNode is either a top-level call (target == nil) or a chained call
// (target != nil, produced by `.name(args...)`).
type callNode struct {
	target node
	name   string
	args   []node
}

// propertyNode is `.name` property access (not a call).
type propertyNode struct {
	target node
	name   string
}

// indexNode is `target[indexExpr]`.
type indexNode struct {
	target node
	index  node
}

type binaryNode struct {
	op    string
	left  node
	right node
}

// pipeNode is `left | right`. When right is a top-level call or a bare
// built-in function name, left is passed to that function as its value
// (`tags | join(", ")`); otherwise it is null-coalescing: right is
// evaluated only when left is null or empty.
type pipeNode struct {
	left  node
	right node
}

// oqlNode is the `oql:` prefix: the remainder of the expression is a
// literal query string, not parsed further.
type oqlNode struct{ query string }

// lookupNode is the `lookup(key)` special form.
type lookupNode struct{ key node }

func (*literalNode) exprNode()  {}
func (*pathNode) exprNode()     {}
func (*callNode) exprNode()     {}
func (*propertyNode) exprNode() {}
func (*indexNode) exprNode()    {}
func (*binaryNode) exprNode()   {}
func (*pipeNode) exprNode()     {}
func (*oqlNode) exprNode()      {}
func (*lookupNode) exprNode()   {}

// segment is a piece of a parsed host string: either literal text, a
// resolved `{{ expr }}`, or a block helper.
type segment interface{ segmentNode() }

type textSegment struct{ text string }

type exprSegment struct {
	raw  string // original source, used for the legacy-resolver fallback
	expr node    // nil if parsing raw failed
}

type eachSegment struct {
	collectionRaw string
	collection    node
	body          []segment
}

type ifSegment struct {
	conditionRaw string
	thenBody     []segment
	elseBody     []segment
}

func (*textSegment) segmentNode() {}
func (*exprSegment) segmentNode() {}
func (*eachSegment) segmentNode() {}
func (*ifSegment) segmentNode()   {}

// template is the fully parsed form of one host string.
type template struct {
	segments []segment
}
