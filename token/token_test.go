package token

import "testing"

func TestMake(t *testing.T) {
	tests := []struct {
		name      string
		tokenType TokenType
		lexeme    string
		want      Token
	}{
		{
			name:      "create COLON token",
			tokenType: COLON,
			lexeme:    ":",
			want:      Token{Type: COLON, Lexeme: ":", Line: 1, Column: 1},
		},
		{
			name:      "create EQ token",
			tokenType: EQ,
			lexeme:    "==",
			want:      Token{Type: EQ, Lexeme: "==", Line: 1, Column: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Make(tt.tokenType, tt.lexeme, 1, 1)
			if got != tt.want {
				t.Errorf("Make() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMakeLiteral(t *testing.T) {
	got := MakeLiteral(INT, "42", int64(42), 3, 5)
	if got.Type != INT || got.Lexeme != "42" || got.Literal != int64(42) || got.Line != 3 || got.Column != 5 {
		t.Errorf("MakeLiteral() = %+v, unexpected fields", got)
	}
}

func TestKeyWordsAcceptsBothSpellings(t *testing.T) {
	if KeyWords["predicate"] != PREDICATE {
		t.Errorf(`KeyWords["predicate"] = %v, want PREDICATE`, KeyWords["predicate"])
	}
	if KeyWords["policy"] != PREDICATE {
		t.Errorf(`KeyWords["policy"] = %v, want PREDICATE`, KeyWords["policy"])
	}
}
