// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

package assembler

import (
	"fmt"
	"strings"
)

type TokenType uint
type DirectiveType uint
type LabelType uint
type OperandKind uint

type Cursor struct {
	Line     int
	Column   int
	Byte     int64
	Size     int64
	LineByte int64
}

func (c Cursor) String() string {
	return fmt.Sprintf("%02d:%02d", c.Line, c.Column)
}

type Token struct {
	Type     TokenType
	Position Cursor
	Value    string
}

// Debug information collected while assembling: the source offset of the line
// that produced each instruction, and the name of every address label.
type SymTable struct {
	Source  string            `cbor:"source"`
	Symbols map[uint32]int64  `cbor:"symbols"`
	Labels  map[uint32]string `cbor:"labels"`
}

func NewSymTable() *SymTable {
	return &SymTable{
		Symbols: make(map[uint32]int64),
		Labels:  make(map[uint32]string),
	}
}

func (t TokenType) String() string {
	switch t {
	case TOKEN_IDENT:
		return "Identifier"
	case TOKEN_DIRECTIVE:
		return "Directive"
	case TOKEN_STRING:
		return "String"
	case TOKEN_LITERAL:
		return "Literal"
	case TOKEN_STORE:
		return "Store"
	case TOKEN_BRANCH:
		return "Branch"
	case TOKEN_NONE:
		return "Nothing"
	}

	return "<invalid>"
}

type TokenError interface {
	GetPosition() Cursor
}

type InvalidOperandError struct {
	Position Cursor
	Required []TokenType
	Received TokenType
}

func (err *InvalidOperandError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidOperandError) Error() string {
	names := make([]string, len(err.Required))

	for i, tokenType := range err.Required {
		names[i] = tokenType.String()
	}

	want := strings.Join(names, " or ")

	if len(names) > 2 {
		want = strings.Join(names[:len(names)-1], ", ") + ", or " + names[len(names)-1]
	}

	return fmt.Sprintf("%s: Invalid operands\n\twant:%s\n\thave:%s", err.Position, want, err.Received)
}

type InvalidNumArgumentsError struct {
	Position Cursor
	Required int
	Received int
}

func (err *InvalidNumArgumentsError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidNumArgumentsError) Error() string {
	return fmt.Sprintf("%s: Invalid number of arguments\n\twant:%d\n\thave:%v", err.Position, err.Required, err.Received)
}

type OversizedLabelError struct {
	Position Cursor
	Required int64
	Received int64
}

func (err *OversizedLabelError) GetPosition() Cursor {
	return err.Position
}

func (err *OversizedLabelError) Error() string {
	return fmt.Sprintf("%s: Label exceeds allowed distance\n\twant:%d\n\thave:%d", err.Position, err.Required, err.Received)
}

type InvalidLiteralError struct {
	Position Cursor
}

func (err *InvalidLiteralError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidLiteralError) Error() string {
	return fmt.Sprintf("%s: Invalid numeric literal", err.Position)
}

type InvalidStringError struct {
	Position Cursor
}

func (err *InvalidStringError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidStringError) Error() string {
	return fmt.Sprintf("%s: Invalid string literal", err.Position)
}

type OversizedLiteralError struct {
	Position Cursor
	Required interface{}
	Received interface{}
}

func (err *OversizedLiteralError) GetPosition() Cursor {
	return err.Position
}

func (err *OversizedLiteralError) Error() string {
	return fmt.Sprintf("%s: Literal exceeds allowed size\n\twant:%d\n\thave:%d", err.Position, err.Required, err.Received)
}

type InvalidVariableError struct {
	Position Cursor
}

func (err *InvalidVariableError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidVariableError) Error() string {
	return fmt.Sprintf("%s: Invalid variable identifier", err.Position)
}

type UnexpectedCharacterError struct {
	Position Cursor
	Received rune
}

func (err *UnexpectedCharacterError) GetPosition() Cursor {
	return err.Position
}

func (err *UnexpectedCharacterError) Error() string {
	return fmt.Sprintf("%s: Unexpected character %c", err.Position, err.Received)
}

type OversizedCharacterError struct {
	Position Cursor
}

func (err *OversizedCharacterError) GetPosition() Cursor {
	return err.Position
}

func (err *OversizedCharacterError) Error() string {
	return fmt.Sprintf("%s: Character exceeds ASCII limit", err.Position)
}

type RedeclaredLabelError struct {
	Position Cursor
	Received string
}

func (err *RedeclaredLabelError) GetPosition() Cursor {
	return err.Position
}

func (err *RedeclaredLabelError) Error() string {
	return fmt.Sprintf("%s: Redeclaration of label '%s'", err.Position, err.Received)
}

type UnknownLabelError struct {
	Position Cursor
	Received string
}

func (err *UnknownLabelError) GetPosition() Cursor {
	return err.Position
}

func (err *UnknownLabelError) Error() string {
	return fmt.Sprintf("%s: Unknown label '%s'", err.Position, err.Received)
}

type UnknownIdentifierError struct {
	Position Cursor
	Received string
}

func (err *UnknownIdentifierError) GetPosition() Cursor {
	return err.Position
}

func (err *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("%s: Unknown identifier '%s'", err.Position, err.Received)
}

type OversizedBinaryError struct{}

func (err *OversizedBinaryError) Error() string {
	return "Binary exceeds allowed size"
}

type DuplicateDirectiveError struct {
	Position Cursor
	Received string
}

func (err *DuplicateDirectiveError) GetPosition() Cursor {
	return err.Position
}

func (err *DuplicateDirectiveError) Error() string {
	return fmt.Sprintf("%s: Directive '%s' may appear only once", err.Position, err.Received)
}

type MisplacedDirectiveError struct {
	Position Cursor
	Received string
}

func (err *MisplacedDirectiveError) GetPosition() Cursor {
	return err.Position
}

func (err *MisplacedDirectiveError) Error() string {
	return fmt.Sprintf("%s: Directive '%s' has nothing to apply to", err.Position, err.Received)
}

type LimitExceededError struct {
	Position Cursor
	What     string
	Limit    int
}

func (err *LimitExceededError) GetPosition() Cursor {
	return err.Position
}

func (err *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: Too many %s\n\twant:<=%d", err.Position, err.What, err.Limit)
}

type MissingStartError struct{}

func (err *MissingStartError) Error() string {
	return "No .start directive marks the first instruction"
}
