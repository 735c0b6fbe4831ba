// Recursive descent parser for the predicate DSL.
// https://en.wikipedia.org/wiki/Recursive_descent_parser
//
// A recursive descent parser is a top-down parser: it starts from the
// top-level grammar rule (Predicate) and works its way down into nested
// sub-expressions before reaching the leaves of the syntax tree.
package parser

import (
	"fmt"

	"ipe/ast"
	"ipe/token"
)

var compOpTokenTypes = []token.TokenType{
	token.EQ, token.NEQ, token.LT, token.LTE, token.GT, token.GTE,
}

var compOpByTokenType = map[token.TokenType]ast.ComparisonOp{
	token.EQ:  ast.Eq,
	token.NEQ: ast.Neq,
	token.LT:  ast.Lt,
	token.LTE: ast.Lte,
	token.GT:  ast.Gt,
	token.GTE: ast.Gte,
}

// Parser turns a token stream produced by the lexer into []ast.Predicate.
// The parser's position is always one unit ahead of the current token.
type Parser struct {
	tokens   []token.Token
	position int
}

// Make constructs a Parser over tokens.
func Make(tokens []token.Token) *Parser {
	return &Parser{tokens: tokens}
}

func (parser *Parser) peek() token.Token {
	return parser.tokens[parser.position]
}

func (parser *Parser) previous() token.Token {
	return parser.tokens[parser.position-1]
}

func (parser *Parser) advance() token.Token {
	if !parser.isFinished() {
		parser.position++
	}
	return parser.previous()
}

func (parser *Parser) isFinished() bool {
	return parser.peek().Type == token.EOF
}

func (parser *Parser) checkType(tokenType token.TokenType) bool {
	if parser.isFinished() {
		return false
	}
	return parser.peek().Type == tokenType
}

func (parser *Parser) isMatch(tokenTypes ...token.TokenType) bool {
	for _, tokenType := range tokenTypes {
		if parser.checkType(tokenType) {
			parser.advance()
			return true
		}
	}
	return false
}

func (parser *Parser) consume(tokenType token.TokenType, errorMessage string) (token.Token, error) {
	if parser.checkType(tokenType) {
		return parser.advance(), nil
	}
	current := parser.peek()
	return token.Token{}, newSourceError(UnexpectedToken, current.Line, current.Column, errorMessage)
}

// Parse parses the entire token stream into predicates, recovering from a
// malformed predicate block by skipping to the next "predicate"/"policy"
// keyword so later, well-formed blocks in the same source are still
// returned alongside the errors.
func (parser *Parser) Parse() ([]*ast.Predicate, []SourceError) {
	var predicates []*ast.Predicate
	var errors []SourceError

	for !parser.isFinished() {
		pred, err := parser.predicate()
		if err != nil {
			errors = append(errors, toSourceError(err))
			parser.recover()
			continue
		}
		predicates = append(predicates, pred)
	}

	return predicates, errors
}

func toSourceError(err error) SourceError {
	if se, ok := err.(SourceError); ok {
		return se
	}
	return newSourceError(SyntaxError, 0, 0, err.Error())
}

// recover skips tokens until the next "predicate"/"policy" keyword (or EOF)
// so a single malformed block doesn't prevent later blocks from parsing.
func (parser *Parser) recover() {
	for !parser.isFinished() && !parser.checkType(token.PREDICATE) {
		parser.advance()
	}
}

// predicate parses: "predicate" Ident ":" String TriggersBlock RequiresBlock MetadataBlock?
func (parser *Parser) predicate() (*ast.Predicate, error) {
	start := parser.peek()
	if _, err := parser.consume(token.PREDICATE, "expected 'predicate' or 'policy'"); err != nil {
		return nil, err
	}

	nameTok, err := parser.consume(token.IDENTIFIER, "expected predicate name")
	if err != nil {
		return nil, err
	}

	if _, err := parser.consume(token.COLON, "expected ':' after predicate name"); err != nil {
		return nil, err
	}

	intentTok, err := parser.consume(token.STRING, "expected intent string")
	if err != nil {
		return nil, err
	}

	triggers, err := parser.triggersBlock()
	if err != nil {
		return nil, err
	}

	requirements, err := parser.requiresBlock()
	if err != nil {
		return nil, err
	}

	metadata, err := parser.metadataBlock()
	if err != nil {
		return nil, err
	}

	return &ast.Predicate{
		Span:         ast.Span{Line: start.Line, Column: start.Column},
		Name:         nameTok.Lexeme,
		Intent:       intentTok.Literal.(string),
		Triggers:     triggers,
		Requirements: requirements,
		Metadata:     metadata,
	}, nil
}

// triggersBlock parses: "triggers" "when" Cond { "and" Cond }
func (parser *Parser) triggersBlock() ([]ast.Expression, error) {
	if _, err := parser.consume(token.TRIGGERS, "expected 'triggers'"); err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.WHEN, "expected 'when' after 'triggers'"); err != nil {
		return nil, err
	}

	var conditions []ast.Expression
	cond, err := parser.cond()
	if err != nil {
		return nil, err
	}
	conditions = append(conditions, cond)

	for parser.isMatch(token.AND) {
		cond, err := parser.cond()
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}

	return conditions, nil
}

// requiresBlock parses:
//
//	"requires" Cond { "and" Cond } WhereClause?
//	| "denies" [ "with" "reason" String ]
func (parser *Parser) requiresBlock() (ast.Requirements, error) {
	if parser.isMatch(token.DENIES) {
		var reason *string
		if parser.isMatch(token.WITH) {
			if _, err := parser.consume(token.REASON, "expected 'reason' after 'with'"); err != nil {
				return nil, err
			}
			reasonTok, err := parser.consume(token.STRING, "expected reason string")
			if err != nil {
				return nil, err
			}
			r := reasonTok.Literal.(string)
			reason = &r
		}
		return &ast.Denies{Reason: reason}, nil
	}

	if parser.isMatch(token.REQUIRES) {
		var conditions []ast.Expression
		cond, err := parser.cond()
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)

		for parser.isMatch(token.AND) {
			cond, err := parser.cond()
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, cond)
		}

		var where []ast.Expression
		if parser.isMatch(token.WHERE) {
			cond, err := parser.cond()
			if err != nil {
				return nil, err
			}
			where = append(where, cond)
			for parser.isMatch(token.AND) {
				cond, err := parser.cond()
				if err != nil {
					return nil, err
				}
				where = append(where, cond)
			}
		}

		return &ast.Requires{Conditions: conditions, Where: where}, nil
	}

	current := parser.peek()
	return nil, newSourceError(MissingRequirements, current.Line, current.Column, "predicate block has neither 'requires' nor 'denies'")
}

// metadataBlock parses the optional trailing "metadata { key: \"value\", ... }".
func (parser *Parser) metadataBlock() (map[string]string, error) {
	if !parser.isMatch(token.METADATA) {
		return nil, nil
	}
	if _, err := parser.consume(token.LBRACE, "expected '{' after 'metadata'"); err != nil {
		return nil, err
	}

	metadata := map[string]string{}
	if !parser.checkType(token.RBRACE) {
		for {
			keyTok, err := parser.consume(token.IDENTIFIER, "expected metadata key")
			if err != nil {
				return nil, err
			}
			if _, err := parser.consume(token.COLON, "expected ':' after metadata key"); err != nil {
				return nil, err
			}
			valueTok, err := parser.consume(token.STRING, "expected metadata value string")
			if err != nil {
				return nil, err
			}
			metadata[keyTok.Lexeme] = valueTok.Literal.(string)

			if !parser.isMatch(token.COMMA) {
				break
			}
		}
	}

	if _, err := parser.consume(token.RBRACE, "expected '}' to close metadata block"); err != nil {
		return nil, err
	}
	return metadata, nil
}

// cond = Or
func (parser *Parser) cond() (ast.Expression, error) {
	return parser.or()
}

// or = And { "or" And }, folded into a right-leaning tree of two-operand
// Logical(Or, ...) nodes when more than one And is chained:
// a or b or c becomes Or(a, Or(b, c)).
func (parser *Parser) or() (ast.Expression, error) {
	start := parser.peek()
	first, err := parser.and()
	if err != nil {
		return nil, err
	}

	operands := []ast.Expression{first}
	starts := []token.Token{start}
	for parser.isMatch(token.OR) {
		starts = append(starts, parser.peek())
		next, err := parser.and()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}

	expr := operands[len(operands)-1]
	for i := len(operands) - 2; i >= 0; i-- {
		expr = &ast.Logical{Span: ast.Span{Line: starts[i].Line, Column: starts[i].Column}, Op: ast.Or, Operands: []ast.Expression{operands[i], expr}}
	}
	return expr, nil
}

// and = Not { "and" Not }, folded into a right-leaning tree of two-operand
// Logical(And, ...) nodes when more than one Not is chained:
// a and b and c becomes And(a, And(b, c)).
func (parser *Parser) and() (ast.Expression, error) {
	start := parser.peek()
	first, err := parser.not()
	if err != nil {
		return nil, err
	}

	operands := []ast.Expression{first}
	starts := []token.Token{start}
	for parser.isMatch(token.AND) {
		starts = append(starts, parser.peek())
		next, err := parser.not()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}

	expr := operands[len(operands)-1]
	for i := len(operands) - 2; i >= 0; i-- {
		expr = &ast.Logical{Span: ast.Span{Line: starts[i].Line, Column: starts[i].Column}, Op: ast.And, Operands: []ast.Expression{operands[i], expr}}
	}
	return expr, nil
}

// not = "not" Not | Primary
func (parser *Parser) not() (ast.Expression, error) {
	if parser.isMatch(token.NOT) {
		start := parser.previous()
		operand, err := parser.not()
		if err != nil {
			return nil, err
		}
		return &ast.Logical{Span: ast.Span{Line: start.Line, Column: start.Column}, Op: ast.Not, Operands: []ast.Expression{operand}}, nil
	}
	return parser.primary()
}

// primary = Comparison | Membership | Call | "(" Cond ")" | Literal | Path
//
// Comparison, Membership and Path all begin with a Path, so the parser
// speculatively parses a Path first (or a Call, if the identifier is
// followed by "(") and then decides which production applies by looking at
// the next token.
func (parser *Parser) primary() (ast.Expression, error) {
	if parser.isMatch(token.LPAREN) {
		expr, err := parser.cond()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.RPAREN, "expected ')' to close grouped condition"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	if lit, ok, err := parser.tryLiteral(); ok || err != nil {
		return lit, err
	}

	if parser.checkType(token.IDENTIFIER) {
		start := parser.peek()
		segments, err := parser.path()
		if err != nil {
			return nil, err
		}

		if len(segments) == 1 && parser.checkType(token.LPAREN) {
			return parser.call(start, segments[0])
		}

		pathExpr := &ast.Path{Span: ast.Span{Line: start.Line, Column: start.Column}, Segments: segments}

		if parser.isMatch(compOpTokenTypes...) {
			op := compOpByTokenType[parser.previous().Type]
			right, err := parser.comparisonOperand()
			if err != nil {
				return nil, err
			}
			return &ast.Binary{Span: pathExpr.Span, Left: pathExpr, Op: op, Right: right}, nil
		}

		if parser.isMatch(token.IN) {
			items, err := parser.literalArray()
			if err != nil {
				return nil, err
			}
			return &ast.In{Span: pathExpr.Span, Expr: pathExpr, Items: items}, nil
		}

		return pathExpr, nil
	}

	current := parser.peek()
	return nil, newSourceError(UnexpectedToken, current.Line, current.Column, fmt.Sprintf("unexpected token %q", current.Lexeme))
}

// comparisonOperand parses the right-hand side of a Comparison: a Literal or a Path.
func (parser *Parser) comparisonOperand() (ast.Expression, error) {
	if lit, ok, err := parser.tryLiteral(); ok || err != nil {
		return lit, err
	}
	start := parser.peek()
	segments, err := parser.path()
	if err != nil {
		return nil, err
	}
	return &ast.Path{Span: ast.Span{Line: start.Line, Column: start.Column}, Segments: segments}, nil
}

// tryLiteral consumes a Literal (String | Int | Float | Bool) if the current
// token is one, reporting ok=false (no error) when it is not.
func (parser *Parser) tryLiteral() (ast.Expression, bool, error) {
	tok := parser.peek()
	switch tok.Type {
	case token.STRING:
		parser.advance()
		return literalExpr(tok, stringValue(tok.Literal.(string))), true, nil
	case token.INT:
		parser.advance()
		return literalExpr(tok, intValue(tok.Literal.(int64))), true, nil
	case token.FLOAT:
		parser.advance()
		return literalExpr(tok, floatValue(tok.Literal.(float64))), true, nil
	case token.TRUE, token.FALSE:
		parser.advance()
		return literalExpr(tok, boolValue(tok.Literal.(bool))), true, nil
	default:
		return nil, false, nil
	}
}

// literalArray parses: "[" Literal { "," Literal } "]"
func (parser *Parser) literalArray() ([]ast.Expression, error) {
	if _, err := parser.consume(token.LBRACK, "expected '[' to start array literal"); err != nil {
		return nil, err
	}

	var items []ast.Expression
	if !parser.checkType(token.RBRACK) {
		for {
			lit, ok, err := parser.tryLiteral()
			if err != nil {
				return nil, err
			}
			if !ok {
				current := parser.peek()
				return nil, newSourceError(UnexpectedToken, current.Line, current.Column, "expected a literal in array")
			}
			items = append(items, lit)
			if !parser.isMatch(token.COMMA) {
				break
			}
		}
	}

	if _, err := parser.consume(token.RBRACK, "expected ']' to close array literal"); err != nil {
		return nil, err
	}
	return items, nil
}

// call parses the argument list of a Call whose name has already been consumed.
func (parser *Parser) call(start token.Token, name string) (ast.Expression, error) {
	if _, err := parser.consume(token.LPAREN, "expected '(' to start call arguments"); err != nil {
		return nil, err
	}

	var args []ast.Expression
	if !parser.checkType(token.RPAREN) {
		for {
			arg, err := parser.arg()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !parser.isMatch(token.COMMA) {
				break
			}
		}
	}

	if _, err := parser.consume(token.RPAREN, "expected ')' to close call arguments"); err != nil {
		return nil, err
	}

	return &ast.Call{Span: ast.Span{Line: start.Line, Column: start.Column}, Name: name, Args: args}, nil
}

// arg = Cond | Literal | Path
func (parser *Parser) arg() (ast.Expression, error) {
	return parser.cond()
}

// path = Ident { "." Ident }
func (parser *Parser) path() ([]string, error) {
	first, err := parser.consume(token.IDENTIFIER, "expected an identifier")
	if err != nil {
		return nil, err
	}
	segments := []string{first.Lexeme}
	for parser.isMatch(token.DOT) {
		next, err := parser.consume(token.IDENTIFIER, "expected an identifier after '.'")
		if err != nil {
			return nil, err
		}
		segments = append(segments, next.Lexeme)
	}
	return segments, nil
}
