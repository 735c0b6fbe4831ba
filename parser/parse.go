package parser

import (
	"ipe/ast"
	"ipe/lexer"
)

// Parse is the library entry point named in the external interface surface:
// it scans source and parses it into zero or more predicates, returning
// every SourceError encountered along the way (lexical and syntactic).
// Predicates that parsed cleanly are returned even when other blocks in the
// same source failed.
func Parse(source string) ([]*ast.Predicate, []SourceError) {
	toks, lexErrs := lexer.New(source).Scan()

	var errors []SourceError
	for _, e := range lexErrs {
		errors = append(errors, newSourceError(SyntaxError, e.Line, e.Column, e.Message))
	}

	predicates, parseErrs := Make(toks).Parse()
	errors = append(errors, parseErrs...)

	return predicates, errors
}
