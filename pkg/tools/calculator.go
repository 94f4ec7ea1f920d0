package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/harun/agentcore/pkg/capability"
)

// CalculatorName is the registry name of the calculator capability.
const CalculatorName = "calculator"

var calcDisallowed = regexp.MustCompile(`[^0-9+\-*/().,a-z_\s]`)

// NewCalculator returns the calculator capability.
func NewCalculator() (capability.Descriptor, error) {
	return capability.Descriptor{
		Name:        CalculatorName,
		Description: "Perform mathematical calculations. Supports + - * / // ** and parentheses, the functions abs, round, min, max, sum, pow, sqrt, sin, cos, tan, log, log10, exp, floor, ceil, and the constants pi and e.",
		Parameters: []capability.Parameter{
			{
				Name:        "expression",
				Type:        "string",
				Description: `Mathematical expression to evaluate (e.g. "2 + 2", "sqrt(16)", "sin(pi/2)")`,
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, in capability.Input) (string, error) {
			return Calculate(in.String("expression"))
		},
	}, nil
}

// Calculate evaluates expression and returns "Result: <n>".
func Calculate(expression string) (string, error) {
	if calcDisallowed.MatchString(strings.ToLower(expression)) {
		return "", capability.Failuref("Error: Invalid characters in expression. Only numbers, operators (+, -, *, /), parentheses, and math functions are allowed.")
	}

	v, err := evaluate(expression)
	if err != nil {
		var ce *calcError
		if !errors.As(err, &ce) {
			return "", capability.Failuref("Error calculating expression: %v", err)
		}
		switch ce.kind {
		case calcSyntax:
			return "", capability.Failuref("Error: Invalid syntax in expression: '%s'", expression)
		case calcName:
			return "", capability.Failuref("Error: Unknown function or variable: %s", ce.msg)
		case calcZeroDivision:
			return "", capability.Failuref("Error: Division by zero")
		default:
			return "", capability.Failuref("Error calculating expression: %s", ce.msg)
		}
	}

	return "Result: " + formatNumber(v), nil
}

func formatNumber(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if v == 0 {
		return "0"
	}
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(math.Round(v*1e10)/1e10, 'f', -1, 64)
}

type calcErrorKind int

const (
	calcSyntax calcErrorKind = iota
	calcName
	calcZeroDivision
	calcValue
)

type calcError struct {
	kind calcErrorKind
	msg  string
}

func (e *calcError) Error() string { return e.msg }

func syntaxErr() error { return &calcError{kind: calcSyntax, msg: "invalid syntax"} }

func valueErr(format string, args ...interface{}) error {
	return &calcError{kind: calcValue, msg: fmt.Sprintf(format, args...)}
}

var zeroDivErr = &calcError{kind: calcZeroDivision, msg: "division by zero"}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++
		case isDigit(c) || c == '.':
			start := i
			for i < len(s) && isDigit(s[i]) {
				i++
			}
			if i < len(s) && s[i] == '.' {
				i++
				for i < len(s) && isDigit(s[i]) {
					i++
				}
			}
			if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
				j := i + 1
				if j < len(s) && (s[j] == '+' || s[j] == '-') {
					j++
				}
				if j < len(s) && isDigit(s[j]) {
					for j < len(s) && isDigit(s[j]) {
						j++
					}
					i = j
				}
			}
			lit := s[start:i]
			if lit == "." {
				return nil, syntaxErr()
			}
			n, err := strconv.ParseFloat(lit, 64)
			if err != nil && !errors.Is(err, strconv.ErrRange) {
				return nil, syntaxErr()
			}
			toks = append(toks, token{kind: tokNumber, text: lit, num: n})
		case isIdentStart(c):
			start := i
			for i < len(s) && (isIdentStart(s[i]) || isDigit(s[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: s[start:i]})
		case c == '*' || c == '/':
			if i+1 < len(s) && s[i+1] == c {
				toks = append(toks, token{kind: tokOp, text: s[i : i+2]})
				i += 2
				continue
			}
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '+' || c == '-':
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ","})
			i++
		default:
			return nil, syntaxErr()
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// value is a number, a tuple of numbers, or a reference to a builtin function.
type value struct {
	num   float64
	tuple []float64
	fn    string
	isTup bool
}

func (v value) typeName() string {
	switch {
	case v.fn != "":
		return "builtin_function_or_method"
	case v.isTup:
		return "tuple"
	default:
		return "float"
	}
}

func (v value) number() (float64, error) {
	if v.fn != "" || v.isTup {
		return 0, valueErr("unsupported operand type: '%s'", v.typeName())
	}
	return v.num, nil
}

// node is a parsed expression.
type node interface{}

type (
	numNode   struct{ v float64 }
	nameNode  struct{ name string }
	unaryNode struct {
		op      string
		operand node
	}
	binaryNode struct {
		op          string
		left, right node
	}
	callNode struct {
		fn   node
		args []node
	}
	tupleNode struct{ items []node }
)

type calcParser struct {
	toks []token
	pos  int
}

func evaluate(expr string) (float64, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &calcParser{toks: toks}
	tree, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.peek().kind != tokEOF {
		return 0, syntaxErr()
	}

	v, err := eval(tree)
	if err != nil {
		return 0, err
	}
	if v.isTup {
		return 0, valueErr("expression evaluates to a tuple, not a number")
	}
	if v.fn != "" {
		return 0, valueErr("expression evaluates to the function %s, not a number", v.fn)
	}
	if math.IsNaN(v.num) {
		return 0, valueErr("math domain error")
	}
	return v.num, nil
}

func (p *calcParser) peek() token { return p.toks[p.pos] }

func (p *calcParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *calcParser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

// expr := term (("+" | "-") term)*
func (p *calcParser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

// term := unary (("*" | "/" | "//") unary)*
func (p *calcParser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "//") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

// unary := ("+" | "-") unary | power
func (p *calcParser) parseUnary() (node, error) {
	if p.isOp("+", "-") {
		op := p.next().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePower()
}

// power := call ("**" unary)?
func (p *calcParser) parsePower() (node, error) {
	base, err := p.parseCall()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

// call := atom ("(" [expr ("," expr)* [","]] ")")*
func (p *calcParser) parseCall() (node, error) {
	n, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokLParen {
		p.next()
		args, _, err := p.parseList()
		if err != nil {
			return nil, err
		}
		n = callNode{fn: n, args: args}
	}
	return n, nil
}

// parseList reads comma separated expressions up to and including ")".
// comma reports whether any separator was seen, which makes "(x,)" a tuple.
func (p *calcParser) parseList() (items []node, comma bool, err error) {
	if p.peek().kind == tokRParen {
		p.next()
		return nil, false, nil
	}
	for {
		item, err := p.parseExpr()
		if err != nil {
			return nil, false, err
		}
		items = append(items, item)
		switch p.next().kind {
		case tokComma:
			comma = true
			if p.peek().kind == tokRParen {
				p.next()
				return items, comma, nil
			}
		case tokRParen:
			return items, comma, nil
		default:
			return nil, false, syntaxErr()
		}
	}
}

// atom := number | identifier | "(" list ")"
func (p *calcParser) parseAtom() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numNode{v: t.num}, nil
	case tokIdent:
		return nameNode{name: t.text}, nil
	case tokLParen:
		items, comma, err := p.parseList()
		if err != nil {
			return nil, err
		}
		if len(items) == 1 && !comma {
			return items[0], nil
		}
		return tupleNode{items: items}, nil
	default:
		return nil, syntaxErr()
	}
}

func eval(n node) (value, error) {
	switch n := n.(type) {
	case numNode:
		return value{num: n.v}, nil
	case nameNode:
		switch n.name {
		case "pi":
			return value{num: math.Pi}, nil
		case "e":
			return value{num: math.E}, nil
		}
		if _, ok := builtins[n.name]; ok {
			return value{fn: n.name}, nil
		}
		return value{}, &calcError{kind: calcName, msg: fmt.Sprintf("name '%s' is not defined", n.name)}
	case unaryNode:
		operand, err := eval(n.operand)
		if err != nil {
			return value{}, err
		}
		x, err := operand.number()
		if err != nil {
			return value{}, valueErr("bad operand type for unary %s: '%s'", n.op, operand.typeName())
		}
		if n.op == "-" {
			x = -x
		}
		return value{num: x}, nil
	case binaryNode:
		left, err := eval(n.left)
		if err != nil {
			return value{}, err
		}
		right, err := eval(n.right)
		if err != nil {
			return value{}, err
		}
		return binary(n.op, left, right)
	case callNode:
		fn, err := eval(n.fn)
		if err != nil {
			return value{}, err
		}
		args := make([]value, 0, len(n.args))
		for _, a := range n.args {
			v, err := eval(a)
			if err != nil {
				return value{}, err
			}
			args = append(args, v)
		}
		if fn.fn == "" {
			return value{}, valueErr("'%s' object is not callable", fn.typeName())
		}
		return callBuiltin(fn.fn, args)
	case tupleNode:
		tuple := make([]float64, 0, len(n.items))
		for _, item := range n.items {
			v, err := eval(item)
			if err != nil {
				return value{}, err
			}
			x, err := v.number()
			if err != nil {
				return value{}, err
			}
			tuple = append(tuple, x)
		}
		return value{tuple: tuple, isTup: true}, nil
	default:
		return value{}, syntaxErr()
	}
}

func binary(op string, left, right value) (value, error) {
	a, err := left.number()
	if err != nil {
		return value{}, valueErr("unsupported operand type(s) for %s: '%s' and '%s'", op, left.typeName(), right.typeName())
	}
	b, err := right.number()
	if err != nil {
		return value{}, valueErr("unsupported operand type(s) for %s: '%s' and '%s'", op, left.typeName(), right.typeName())
	}

	var r float64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		if b == 0 {
			return value{}, zeroDivErr
		}
		r = a / b
	case "//":
		if b == 0 {
			return value{}, zeroDivErr
		}
		r = math.Floor(a / b)
	case "**":
		if a == 0 && b < 0 {
			return value{}, zeroDivErr
		}
		if a < 0 && b != math.Trunc(b) {
			return value{}, valueErr("result is not a real number")
		}
		r = math.Pow(a, b)
		if math.IsInf(r, 0) && !math.IsInf(a, 0) && !math.IsInf(b, 0) {
			return value{}, valueErr("numerical result out of range")
		}
	default:
		return value{}, syntaxErr()
	}
	return value{num: r}, nil
}

type builtin func(args []value) (float64, error)

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"abs":   unary1("abs", math.Abs),
		"sqrt":  domain1("sqrt", math.Sqrt, func(x float64) bool { return x >= 0 }),
		"sin":   unary1("sin", math.Sin),
		"cos":   unary1("cos", math.Cos),
		"tan":   unary1("tan", math.Tan),
		"log10": domain1("log10", math.Log10, func(x float64) bool { return x > 0 }),
		"exp":   rangeChecked1("exp", math.Exp),
		"floor": unary1("floor", math.Floor),
		"ceil":  unary1("ceil", math.Ceil),
		"round": builtinRound,
		"pow":   builtinPow,
		"log":   builtinLog,
		"min":   reduceBuiltin("min", math.Min),
		"max":   reduceBuiltin("max", math.Max),
		"sum":   builtinSum,
	}
}

func callBuiltin(name string, args []value) (value, error) {
	n, err := builtins[name](args)
	if err != nil {
		return value{}, err
	}
	return value{num: n}, nil
}

func numbers(name string, args []value) ([]float64, error) {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		n, err := a.number()
		if err != nil {
			return nil, valueErr("%s() argument must be a number, not '%s'", name, a.typeName())
		}
		out = append(out, n)
	}
	return out, nil
}

func unary1(name string, f func(float64) float64) builtin {
	return func(args []value) (float64, error) {
		if len(args) != 1 {
			return 0, valueErr("%s() takes exactly one argument (%d given)", name, len(args))
		}
		xs, err := numbers(name, args)
		if err != nil {
			return 0, err
		}
		return f(xs[0]), nil
	}
}

func domain1(name string, f func(float64) float64, ok func(float64) bool) builtin {
	inner := unary1(name, f)
	return func(args []value) (float64, error) {
		if len(args) == 1 && !args[0].isTup && args[0].fn == "" && !ok(args[0].num) {
			return 0, valueErr("math domain error")
		}
		return inner(args)
	}
}

func rangeChecked1(name string, f func(float64) float64) builtin {
	inner := unary1(name, f)
	return func(args []value) (float64, error) {
		r, err := inner(args)
		if err == nil && math.IsInf(r, 0) {
			return 0, valueErr("math range error")
		}
		return r, err
	}
}

func builtinRound(args []value) (float64, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, valueErr("round() takes 1 or 2 arguments (%d given)", len(args))
	}
	xs, err := numbers("round", args)
	if err != nil {
		return 0, err
	}
	if len(xs) == 1 {
		return math.RoundToEven(xs[0]), nil
	}
	scale := math.Pow(10, math.Trunc(xs[1]))
	return math.RoundToEven(xs[0]*scale) / scale, nil
}

func builtinPow(args []value) (float64, error) {
	if len(args) != 2 {
		return 0, valueErr("pow() takes exactly 2 arguments (%d given)", len(args))
	}
	v, err := binary("**", args[0], args[1])
	if err != nil {
		return 0, err
	}
	return v.num, nil
}

func builtinLog(args []value) (float64, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, valueErr("log() takes 1 or 2 arguments (%d given)", len(args))
	}
	xs, err := numbers("log", args)
	if err != nil {
		return 0, err
	}
	for _, x := range xs {
		if x <= 0 {
			return 0, valueErr("math domain error")
		}
	}
	if len(xs) == 1 {
		return math.Log(xs[0]), nil
	}
	if xs[1] == 1 {
		return 0, zeroDivErr
	}
	return math.Log(xs[0]) / math.Log(xs[1]), nil
}

// flatten expands tuple arguments so min(1, 2) and min((1, 2)) agree.
func flatten(name string, args []value) ([]float64, error) {
	var out []float64
	for _, a := range args {
		if a.isTup {
			out = append(out, a.tuple...)
			continue
		}
		n, err := a.number()
		if err != nil {
			return nil, valueErr("%s() argument must be a number, not '%s'", name, a.typeName())
		}
		out = append(out, n)
	}
	return out, nil
}

func reduceBuiltin(name string, f func(a, b float64) float64) builtin {
	return func(args []value) (float64, error) {
		xs, err := flatten(name, args)
		if err != nil {
			return 0, err
		}
		if len(xs) == 0 {
			return 0, valueErr("%s() arg is an empty sequence", name)
		}
		r := xs[0]
		for _, x := range xs[1:] {
			r = f(r, x)
		}
		return r, nil
	}
}

func builtinSum(args []value) (float64, error) {
	xs, err := flatten("sum", args)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return total, nil
}
