package parser

import (
	"ipe/ast"
	"ipe/token"
	"ipe/value"
)

func literalExpr(tok token.Token, v value.Value) ast.Expression {
	return &ast.Literal{Span: ast.Span{Line: tok.Line, Column: tok.Column}, Value: v}
}

func stringValue(s string) value.Value { return value.String(s) }
func intValue(i int64) value.Value     { return value.Int(i) }
func floatValue(f float64) value.Value { return value.Float(f) }
func boolValue(b bool) value.Value     { return value.Bool(b) }
