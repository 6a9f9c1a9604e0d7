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
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/lassandro/goz3/pkg/encoding"
)

type chunkKind uint

const (
	CHUNK_BYTES chunkKind = iota
	CHUNK_WORDS
	CHUNK_ROUTINE
	CHUNK_STRING
	CHUNK_CODE
)

// A run of bytes in dynamic or high memory whose address is fixed at layout.
type chunk struct {
	Kind  chunkKind
	Addr  uint32
	Size  uint32
	Align bool

	Bytes []byte
	Words []operand
	Text  string
	Code  *statement

	// Encoded text for CHUNK_STRING, filled in before layout
	zwords []uint16
}

type operand struct {
	Kind  OperandKind
	Value uint16
	Label string
	Token Token
}

type branchTarget struct {
	OnTrue bool
	Label  string

	// BRANCH_RTRUE or BRANCH_RFALSE when Label is empty
	Offset int16

	Token Token
}

type statement struct {
	Keyword  Token
	Info     encoding.OpcodeInfo
	Operands []operand
	Types    []uint8
	Long     bool

	StoreToken *Token
	Store      uint8

	Branch *branchTarget

	Text   string
	zchars []uint8

	// Offset of the source line, for the symbol table
	LineByte int64
}

type symbol struct {
	Type   LabelType
	Chunk  *chunk
	Object int
	Word   string
	Token  Token
}

type property struct {
	Number int
	Wide   bool
	Values []operand
	Token  Token
}

type object struct {
	Name       string
	Parent     *operand
	Attributes [4]byte
	Properties []*property
	Token      Token

	// Filled in at layout
	tableAddr uint32
	tableSize uint32
}

type global struct {
	Name  string
	Init  operand
	Token Token
}

type abbreviation struct {
	Text  string
	Chunk *chunk
}

type assembler struct {
	errs     []error
	symtable *SymTable

	labels  map[string]*symbol
	pending []Token
	seen    map[DirectiveType]bool

	release uint16
	serial  string

	globals     []global
	globalIndex map[string]uint8
	defaults    [DEFAULT_PROPERTIES]uint16

	objects []*object

	separators string
	words      []string

	abbreviations []*abbreviation

	data []*chunk
	high []*chunk

	startPending *Token
	start        *chunk

	// Layout results
	dictEntries map[[2]uint16]uint32
}

func parseDirective(ident string) DirectiveType {
	switch strings.ToLower(ident) {
	case ".release":
		return DIRECTIVE_RELEASE
	case ".serial":
		return DIRECTIVE_SERIAL
	case ".start":
		return DIRECTIVE_START
	case ".global":
		return DIRECTIVE_GLOBAL
	case ".default":
		return DIRECTIVE_DEFAULT
	case ".object":
		return DIRECTIVE_OBJECT
	case ".attr":
		return DIRECTIVE_ATTR
	case ".prop":
		return DIRECTIVE_PROP
	case ".propw":
		return DIRECTIVE_PROPW
	case ".separators":
		return DIRECTIVE_SEPARATORS
	case ".dict":
		return DIRECTIVE_DICT
	case ".abbrev":
		return DIRECTIVE_ABBREV
	case ".routine":
		return DIRECTIVE_ROUTINE
	case ".string":
		return DIRECTIVE_STRING
	case ".bytes":
		return DIRECTIVE_BYTES
	case ".words":
		return DIRECTIVE_WORDS
	case ".buffer":
		return DIRECTIVE_BUFFER
	case ".end":
		return DIRECTIVE_END
	}

	return DIRECTIVE_INVALID
}

// Parses sp, l1-l15 and g0-g239 into variable numbers.
func parseVariable(ident string) (uint8, bool) {
	if ident == "sp" {
		return 0, true
	}

	if len(ident) < 2 || (ident[0] != 'l' && ident[0] != 'g') {
		return 0, false
	}

	n, err := strconv.Atoi(ident[1:])

	if err != nil || strconv.Itoa(n) != ident[1:] {
		return 0, false
	}

	if ident[0] == 'l' {
		if n < 1 || n > LOCAL_MAX {
			return 0, false
		}

		return uint8(n), true
	}

	if n < 0 || n >= GLOBAL_COUNT {
		return 0, false
	}

	return uint8(GLOBAL_FIRST + n), true
}

func parseLiteral(token *Token) (uint16, error) {
	result, err := encoding.DecodeLiteral(token.Value)

	if err != nil {
		return 0, &InvalidLiteralError{token.Position}
	}

	return result, nil
}

func parseByte(token *Token) (uint8, error) {
	result, err := parseLiteral(token)

	if err != nil {
		return 0, err
	}

	if result > 0xFF {
		return 0, &OversizedLiteralError{token.Position, 0xFF, result}
	}

	return uint8(result), nil
}

func parseString(token *Token) (string, error) {
	s, err := strconv.Unquote(token.Value)

	if err != nil {
		return "", &InvalidStringError{token.Position}
	}

	return s, nil
}

func (asm *assembler) fail(err error) {
	asm.errs = append(asm.errs, err)
}

func (asm *assembler) expect(token *Token, types ...TokenType) bool {
	for _, t := range types {
		if token.Type == t {
			return true
		}
	}

	asm.fail(&InvalidOperandError{token.Position, types, token.Type})

	return false
}

func (asm *assembler) expectCount(keyword *Token, operands []Token, least, most int) bool {
	if count := len(operands); count < least || count > most {
		want := least

		if count > most {
			want = most
		}

		asm.fail(&InvalidNumArgumentsError{keyword.Position, want, count})

		return false
	}

	return true
}

func (asm *assembler) once(keyword *Token, directive DirectiveType) bool {
	if asm.seen[directive] {
		asm.fail(&DuplicateDirectiveError{keyword.Position, keyword.Value})
		return false
	}

	asm.seen[directive] = true

	return true
}

// Binds every pending label to the item just declared.
func (asm *assembler) bind(template symbol) {
	for _, token := range asm.pending {
		if _, exists := asm.labels[token.Value]; exists {
			asm.fail(&RedeclaredLabelError{token.Position, token.Value})
			continue
		}

		sym := template
		sym.Token = token
		asm.labels[token.Value] = &sym
	}

	asm.pending = asm.pending[:0]
}

func (asm *assembler) emitData(c *chunk) {
	asm.data = append(asm.data, c)
	asm.bind(symbol{Type: LABEL_ADDR, Chunk: c})
}

func (asm *assembler) emitHigh(c *chunk, labelType LabelType) {
	asm.high = append(asm.high, c)
	asm.bind(symbol{Type: labelType, Chunk: c})
}

// Reads a value operand: a literal, a variable, or a label.
func (asm *assembler) parseOperand(token *Token) (operand, bool) {
	op := operand{Token: *token}

	switch token.Type {
	case TOKEN_LITERAL:
		value, err := parseLiteral(token)

		if err != nil {
			asm.fail(err)
			return op, false
		}

		op.Kind = OPERAND_KIND_LITERAL
		op.Value = value

	case TOKEN_IDENT:
		if n, ok := parseVariable(token.Value); ok {
			op.Kind = OPERAND_KIND_VARIABLE
			op.Value = uint16(n)
		} else {
			// Globals may be declared later; settled in classify
			op.Kind = OPERAND_KIND_LABEL
			op.Label = token.Value
		}

	default:
		asm.fail(&InvalidOperandError{
			token.Position,
			[]TokenType{TOKEN_LITERAL, TOKEN_IDENT},
			token.Type,
		})

		return op, false
	}

	return op, true
}

// Assembles a version 3 story file from source.
func AssembleStory(input io.Reader, symtable *SymTable) (result []byte, errs []error) {
	asm := &assembler{
		symtable:    symtable,
		labels:      make(map[string]*symbol),
		seen:        make(map[DirectiveType]bool),
		globalIndex: make(map[string]uint8),
		separators:  DEFAULT_SEPARATORS,
		serial:      "000000",
	}

	var scanner = bufio.NewScanner(input)
	var cursor = Cursor{Line: 1, Column: 0, Size: 0, Byte: 0}

	// Process:
	// - Parse line
	// - Record the statement or declaration it holds
	for scanner.Scan() {
		line := scanner.Text()
		cursor.Size = int64(len(line))

		tokens, lineErrs := tokenizeLine(line, cursor)

		stop := false

		if len(lineErrs) > 0 {
			asm.errs = append(asm.errs, lineErrs...)
		} else if len(tokens) > 0 {
			stop = asm.line(tokens, cursor)
		}

		cursor.Line++
		cursor.Byte += int64(len(line) + 1)
		cursor.LineByte += int64(len(line) + 1)

		if stop {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		asm.fail(err)
	}

	if asm.startPending != nil {
		asm.fail(&MisplacedDirectiveError{
			asm.startPending.Position, asm.startPending.Value,
		})
	}

	// Trailing labels mark the end of high memory
	if len(asm.pending) > 0 {
		asm.emitHigh(&chunk{Kind: CHUNK_BYTES}, LABEL_ADDR)
	}

	if len(asm.errs) > 0 {
		return nil, asm.errs
	}

	if asm.start == nil {
		return nil, []error{&MissingStartError{}}
	}

	asm.classify()

	if len(asm.errs) > 0 {
		return nil, asm.errs
	}

	result = asm.link()

	if len(asm.errs) > 0 {
		return nil, asm.errs
	}

	return result, nil
}

// Records one tokenised line. Returns true at .end.
func (asm *assembler) line(tokens []Token, cursor Cursor) bool {
	var keyword *Token = nil
	var operands []Token

	head := tokens[0]

	if head.Type == TOKEN_IDENT {
		if _, ok := encoding.OpcodeByName(head.Value); !ok {
			asm.pending = append(asm.pending, head)

			// No need to assemble label-only statements
			if len(tokens) == 1 {
				return false
			}

			tokens = tokens[1:]
		}
	}

	keyword = &tokens[0]

	if len(tokens) > 1 {
		operands = tokens[1:]
	}

	switch keyword.Type {
	case TOKEN_DIRECTIVE:
		directive := parseDirective(keyword.Value)

		if directive == DIRECTIVE_INVALID {
			asm.fail(&UnknownIdentifierError{keyword.Position, keyword.Value})
			return false
		}

		if directive == DIRECTIVE_END {
			asm.expectCount(keyword, operands, 0, 0)
			return true
		}

		asm.directive(directive, keyword, operands)

	case TOKEN_IDENT:
		info, ok := encoding.OpcodeByName(keyword.Value)

		if !ok {
			asm.fail(&UnknownIdentifierError{keyword.Position, keyword.Value})
			return false
		}

		asm.instruction(info, keyword, operands, cursor.LineByte)

	default:
		asm.fail(&UnknownIdentifierError{keyword.Position, keyword.Value})
	}

	return false
}

func (asm *assembler) lastObject(keyword *Token) *object {
	if len(asm.objects) == 0 {
		asm.fail(&MisplacedDirectiveError{keyword.Position, keyword.Value})
		return nil
	}

	return asm.objects[len(asm.objects)-1]
}

func (asm *assembler) directive(directive DirectiveType, keyword *Token, operands []Token) {
	switch directive {
	// .release #
	case DIRECTIVE_RELEASE:
		if !asm.once(keyword, directive) || !asm.expectCount(keyword, operands, 1, 1) {
			break
		}

		if asm.expect(&operands[0], TOKEN_LITERAL) {
			value, err := parseLiteral(&operands[0])

			if err != nil {
				asm.fail(err)
			}

			asm.release = value
		}

	// .serial "YYMMDD"
	case DIRECTIVE_SERIAL:
		if !asm.once(keyword, directive) || !asm.expectCount(keyword, operands, 1, 1) {
			break
		}

		if !asm.expect(&operands[0], TOKEN_STRING) {
			break
		}

		s, err := parseString(&operands[0])

		if err != nil || len(s) != 6 {
			asm.fail(&InvalidStringError{operands[0].Position})
			break
		}

		asm.serial = s

	// .start
	case DIRECTIVE_START:
		if !asm.once(keyword, directive) || !asm.expectCount(keyword, operands, 0, 0) {
			break
		}

		token := *keyword
		asm.startPending = &token

	// .global NAME [initial]
	case DIRECTIVE_GLOBAL:
		if !asm.expectCount(keyword, operands, 1, 2) {
			break
		}

		if !asm.expect(&operands[0], TOKEN_IDENT) {
			break
		}

		name := operands[0].Value

		if _, exists := asm.globalIndex[name]; exists {
			asm.fail(&RedeclaredLabelError{operands[0].Position, name})
			break
		}

		if _, isVariable := parseVariable(name); isVariable {
			asm.fail(&InvalidVariableError{operands[0].Position})
			break
		}

		if len(asm.globals) >= GLOBAL_COUNT {
			asm.fail(&LimitExceededError{keyword.Position, "globals", GLOBAL_COUNT})
			break
		}

		g := global{Name: name, Token: operands[0]}

		if len(operands) == 2 {
			op, ok := asm.parseOperand(&operands[1])

			if !ok {
				break
			}

			g.Init = op
		}

		asm.globalIndex[name] = uint8(GLOBAL_FIRST + len(asm.globals))
		asm.globals = append(asm.globals, g)

	// .default # #
	case DIRECTIVE_DEFAULT:
		if !asm.expectCount(keyword, operands, 2, 2) {
			break
		}

		if !asm.expect(&operands[0], TOKEN_LITERAL) || !asm.expect(&operands[1], TOKEN_LITERAL) {
			break
		}

		number, err := parseLiteral(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		if number < 1 || number > PROPERTY_MAX {
			asm.fail(&OversizedLiteralError{operands[0].Position, PROPERTY_MAX, number})
			break
		}

		value, err := parseLiteral(&operands[1])

		if err != nil {
			asm.fail(err)
			break
		}

		asm.defaults[number-1] = value

	// .object "short name" [parent]
	case DIRECTIVE_OBJECT:
		if !asm.expectCount(keyword, operands, 1, 2) {
			break
		}

		if !asm.expect(&operands[0], TOKEN_STRING) {
			break
		}

		name, err := parseString(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		if len(asm.objects) >= OBJECT_MAX {
			asm.fail(&LimitExceededError{keyword.Position, "objects", OBJECT_MAX})
			break
		}

		obj := &object{Name: name, Token: *keyword}

		if len(operands) == 2 {
			op, ok := asm.parseOperand(&operands[1])

			if !ok {
				break
			}

			obj.Parent = &op
		}

		asm.objects = append(asm.objects, obj)
		asm.bind(symbol{Type: LABEL_OBJECT, Object: len(asm.objects)})

	// .attr # ...
	case DIRECTIVE_ATTR:
		obj := asm.lastObject(keyword)

		if obj == nil || !asm.expectCount(keyword, operands, 1, ATTRIBUTE_MAX+1) {
			break
		}

		for i := range operands {
			if !asm.expect(&operands[i], TOKEN_LITERAL) {
				continue
			}

			attr, err := parseLiteral(&operands[i])

			if err != nil {
				asm.fail(err)
				continue
			}

			if attr > ATTRIBUTE_MAX {
				asm.fail(&OversizedLiteralError{operands[i].Position, ATTRIBUTE_MAX, attr})
				continue
			}

			obj.Attributes[attr/8] |= 0x80 >> (attr % 8)
		}

	// .prop # byte...
	// .propw # word...
	case DIRECTIVE_PROP, DIRECTIVE_PROPW:
		obj := asm.lastObject(keyword)

		if obj == nil || !asm.expectCount(keyword, operands, 2, PROPERTY_MAX_SIZE+1) {
			break
		}

		if !asm.expect(&operands[0], TOKEN_LITERAL) {
			break
		}

		number, err := parseLiteral(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		if number < 1 || number > PROPERTY_MAX {
			asm.fail(&OversizedLiteralError{operands[0].Position, PROPERTY_MAX, number})
			break
		}

		prop := &property{
			Number: int(number),
			Wide:   directive == DIRECTIVE_PROPW,
			Token:  *keyword,
		}

		if size := len(operands) - 1; prop.Wide && 2*size > PROPERTY_MAX_SIZE {
			asm.fail(&LimitExceededError{keyword.Position, "property bytes", PROPERTY_MAX_SIZE})
			break
		}

		for _, existing := range obj.Properties {
			if existing.Number == prop.Number {
				asm.fail(&DuplicateDirectiveError{operands[0].Position, keyword.Value})
				return
			}
		}

		for i := 1; i < len(operands); i++ {
			if prop.Wide {
				op, ok := asm.parseOperand(&operands[i])

				if ok {
					prop.Values = append(prop.Values, op)
				}

				continue
			}

			if !asm.expect(&operands[i], TOKEN_LITERAL) {
				continue
			}

			value, err := parseByte(&operands[i])

			if err != nil {
				asm.fail(err)
				continue
			}

			prop.Values = append(prop.Values, operand{Value: uint16(value), Token: operands[i]})
		}

		obj.Properties = append(obj.Properties, prop)

	// .separators "..."
	case DIRECTIVE_SEPARATORS:
		if !asm.once(keyword, directive) || !asm.expectCount(keyword, operands, 1, 1) {
			break
		}

		if !asm.expect(&operands[0], TOKEN_STRING) {
			break
		}

		s, err := parseString(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		asm.separators = s

	// .dict "word" ...
	case DIRECTIVE_DICT:
		if !asm.expectCount(keyword, operands, 1, len(operands)) {
			break
		}

		first := ""

		for i := range operands {
			if !asm.expect(&operands[i], TOKEN_STRING) {
				continue
			}

			word, err := parseString(&operands[i])

			if err != nil {
				asm.fail(err)
				continue
			}

			word = strings.ToLower(word)
			asm.words = append(asm.words, word)

			if i == 0 {
				first = word
			}
		}

		if first != "" {
			asm.bind(symbol{Type: LABEL_DICT, Word: first})
		}

	// .abbrev "text"
	case DIRECTIVE_ABBREV:
		if !asm.expectCount(keyword, operands, 1, 1) || !asm.expect(&operands[0], TOKEN_STRING) {
			break
		}

		if len(asm.abbreviations) >= ABBREVIATION_COUNT {
			asm.fail(&LimitExceededError{keyword.Position, "abbreviations", ABBREVIATION_COUNT})
			break
		}

		s, err := parseString(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		c := &chunk{Kind: CHUNK_STRING, Align: true, Text: s}
		asm.abbreviations = append(asm.abbreviations, &abbreviation{Text: s, Chunk: c})
		asm.emitHigh(c, LABEL_ADDR)

	// .routine # [initial...]
	case DIRECTIVE_ROUTINE:
		if !asm.expectCount(keyword, operands, 1, LOCAL_MAX+1) || !asm.expect(&operands[0], TOKEN_LITERAL) {
			break
		}

		count, err := parseLiteral(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		if count > LOCAL_MAX {
			asm.fail(&LimitExceededError{operands[0].Position, "locals", LOCAL_MAX})
			break
		}

		if int(count) < len(operands)-1 {
			asm.fail(&InvalidNumArgumentsError{keyword.Position, int(count) + 1, len(operands)})
			break
		}

		c := &chunk{Kind: CHUNK_ROUTINE, Align: true}

		for i := 0; i < int(count); i++ {
			var op operand

			if i+1 < len(operands) {
				var ok bool

				if op, ok = asm.parseOperand(&operands[i+1]); !ok {
					return
				}
			}

			c.Words = append(c.Words, op)
		}

		asm.emitHigh(c, LABEL_PACKED)

	// .string "text"
	case DIRECTIVE_STRING:
		if !asm.expectCount(keyword, operands, 1, 1) || !asm.expect(&operands[0], TOKEN_STRING) {
			break
		}

		s, err := parseString(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		asm.emitHigh(&chunk{Kind: CHUNK_STRING, Align: true, Text: s}, LABEL_PACKED)

	// .bytes #|"text" ...
	case DIRECTIVE_BYTES:
		if !asm.expectCount(keyword, operands, 1, len(operands)) {
			break
		}

		c := &chunk{Kind: CHUNK_BYTES}

		for i := range operands {
			if !asm.expect(&operands[i], TOKEN_LITERAL, TOKEN_STRING) {
				continue
			}

			if operands[i].Type == TOKEN_STRING {
				s, err := parseString(&operands[i])

				if err != nil {
					asm.fail(err)
				}

				c.Bytes = append(c.Bytes, s...)
				continue
			}

			value, err := parseByte(&operands[i])

			if err != nil {
				asm.fail(err)
			}

			c.Bytes = append(c.Bytes, value)
		}

		asm.emitData(c)

	// .words #|label ...
	case DIRECTIVE_WORDS:
		if !asm.expectCount(keyword, operands, 1, len(operands)) {
			break
		}

		c := &chunk{Kind: CHUNK_WORDS}

		for i := range operands {
			if op, ok := asm.parseOperand(&operands[i]); ok {
				c.Words = append(c.Words, op)
			}
		}

		asm.emitData(c)

	// .buffer #
	case DIRECTIVE_BUFFER:
		if !asm.expectCount(keyword, operands, 1, 1) || !asm.expect(&operands[0], TOKEN_LITERAL) {
			break
		}

		size, err := parseLiteral(&operands[0])

		if err != nil {
			asm.fail(err)
			break
		}

		asm.emitData(&chunk{Kind: CHUNK_BYTES, Bytes: make([]byte, size)})
	}
}

// Records an instruction: opcode operands... [-> variable] [?target]
func (asm *assembler) instruction(info encoding.OpcodeInfo, keyword *Token, operands []Token, lineByte int64) {
	st := &statement{Keyword: *keyword, Info: info, LineByte: lineByte}

	for i := 0; i < len(operands); i++ {
		token := &operands[i]

		switch token.Type {
		case TOKEN_STORE:
			if !info.Store || st.StoreToken != nil || i+1 >= len(operands) {
				asm.fail(&InvalidOperandError{
					token.Position,
					[]TokenType{TOKEN_LITERAL, TOKEN_IDENT},
					token.Type,
				})

				return
			}

			i++

			if !asm.expect(&operands[i], TOKEN_IDENT) {
				return
			}

			target := operands[i]
			st.StoreToken = &target

		case TOKEN_BRANCH:
			if !info.Branch || st.Branch != nil {
				asm.fail(&InvalidOperandError{
					token.Position,
					[]TokenType{TOKEN_LITERAL, TOKEN_IDENT},
					token.Type,
				})

				return
			}

			target := &branchTarget{OnTrue: true, Token: *token}
			name := strings.TrimPrefix(token.Value, "?")

			if strings.HasPrefix(name, "~") {
				target.OnTrue = false
				name = name[1:]
			}

			switch name {
			case "rtrue":
				target.Offset = encoding.BRANCH_RTRUE
			case "rfalse":
				target.Offset = encoding.BRANCH_RFALSE
			case "":
				asm.fail(&UnknownLabelError{token.Position, token.Value})
				return
			default:
				target.Label = name
			}

			st.Branch = target

		case TOKEN_STRING:
			if !info.Text || st.Text != "" {
				asm.fail(&InvalidOperandError{
					token.Position,
					[]TokenType{TOKEN_LITERAL, TOKEN_IDENT},
					token.Type,
				})

				return
			}

			s, err := parseString(token)

			if err != nil {
				asm.fail(err)
				return
			}

			st.Text = s

		default:
			if st.StoreToken != nil || st.Branch != nil {
				asm.fail(&InvalidOperandError{
					token.Position,
					[]TokenType{TOKEN_STORE, TOKEN_BRANCH},
					token.Type,
				})

				return
			}

			op, ok := asm.parseOperand(token)

			if !ok {
				return
			}

			st.Operands = append(st.Operands, op)
		}
	}

	if least, most := info.Arity(); len(st.Operands) < least || len(st.Operands) > most {
		want := least

		if len(st.Operands) > most {
			want = most
		}

		asm.fail(&InvalidNumArgumentsError{keyword.Position, want, len(st.Operands)})

		return
	}

	missing := TOKEN_NONE

	switch {
	case info.Store && st.StoreToken == nil:
		missing = TOKEN_STORE
	case info.Branch && st.Branch == nil:
		missing = TOKEN_BRANCH
	case info.Text && st.Text == "" && !hasStringOperand(operands):
		missing = TOKEN_STRING
	}

	if missing != TOKEN_NONE {
		asm.fail(&InvalidOperandError{keyword.Position, []TokenType{missing}, TOKEN_NONE})
		return
	}

	c := &chunk{Kind: CHUNK_CODE, Code: st}
	asm.emitHigh(c, LABEL_ADDR)

	if asm.startPending != nil {
		asm.start = c
		asm.startPending = nil
	}
}

func hasStringOperand(operands []Token) bool {
	for _, token := range operands {
		if token.Type == TOKEN_STRING {
			return true
		}
	}

	return false
}

// Settles identifiers that name globals, picks operand types, and encodes
// text, which fixes the size of every chunk.
func (asm *assembler) classify() {
	for i := range asm.globals {
		asm.settle(&asm.globals[i].Init)
	}

	for _, obj := range asm.objects {
		if obj.Parent != nil {
			asm.settle(obj.Parent)
		}

		for _, prop := range obj.Properties {
			for i := range prop.Values {
				asm.settle(&prop.Values[i])
			}
		}
	}

	for _, c := range asm.data {
		for i := range c.Words {
			asm.settle(&c.Words[i])
		}

		asm.size(c)
	}

	for _, c := range asm.high {
		for i := range c.Words {
			asm.settle(&c.Words[i])
		}

		if c.Kind == CHUNK_CODE {
			asm.classifyStatement(c.Code)
		}

		asm.size(c)
	}
}

// Turns a label operand that names a global into a variable.
func (asm *assembler) settle(op *operand) {
	if op.Kind != OPERAND_KIND_LABEL {
		return
	}

	if n, ok := asm.globalIndex[op.Label]; ok {
		op.Kind = OPERAND_KIND_VARIABLE
		op.Value = uint16(n)
	}
}

func (asm *assembler) variable(token *Token) (uint8, bool) {
	if n, ok := parseVariable(token.Value); ok {
		return n, true
	}

	if n, ok := asm.globalIndex[token.Value]; ok {
		return n, true
	}

	asm.fail(&InvalidVariableError{token.Position})

	return 0, false
}

func (asm *assembler) classifyStatement(st *statement) {
	for i := range st.Operands {
		op := &st.Operands[i]
		asm.settle(op)

		// Named variables travel as small constants
		if i == 0 && st.Info.VarRef {
			switch op.Kind {
			case OPERAND_KIND_VARIABLE:
				op.Kind = OPERAND_KIND_LITERAL
			case OPERAND_KIND_LABEL:
				asm.fail(&InvalidVariableError{op.Token.Position})
				return
			}

			if op.Value > 0xFF {
				asm.fail(&InvalidVariableError{op.Token.Position})
				return
			}
		}
	}

	st.Types = make([]uint8, len(st.Operands))

	for i, op := range st.Operands {
		switch {
		case op.Kind == OPERAND_KIND_VARIABLE:
			st.Types[i] = TYPE_VAR
		case op.Kind == OPERAND_KIND_LITERAL && op.Value <= 0xFF:
			st.Types[i] = TYPE_SMALL
		default:
			st.Types[i] = TYPE_LARGE
		}
	}

	st.Long = st.Info.Form() == encoding.FORM_2OP && len(st.Types) == 2 &&
		st.Types[0] != TYPE_LARGE && st.Types[1] != TYPE_LARGE

	if st.StoreToken != nil {
		st.Store, _ = asm.variable(st.StoreToken)
	}

	if st.Info.Text {
		st.zchars = asm.encodeText(st.Text, true)
	}
}

// Encodes text, using declared abbreviations where they match.
func (asm *assembler) encodeText(text string, abbreviate bool) []uint8 {
	if !abbreviate || len(asm.abbreviations) == 0 {
		return encoding.EncodeText(text)
	}

	zchars := make([]uint8, 0, len(text))

	for i := 0; i < len(text); {
		best := -1

		for n, abbr := range asm.abbreviations {
			if abbr.Text == "" || !strings.HasPrefix(text[i:], abbr.Text) {
				continue
			}

			if best < 0 || len(abbr.Text) > len(asm.abbreviations[best].Text) {
				best = n
			}
		}

		if best >= 0 {
			zchars = append(
				zchars,
				uint8(1+best/ABBREVIATION_CLASS),
				uint8(best%ABBREVIATION_CLASS),
			)
			i += len(asm.abbreviations[best].Text)

			continue
		}

		zchars = append(zchars, encoding.EncodeText(text[i:i+1])...)
		i++
	}

	return zchars
}

func (asm *assembler) isAbbreviation(c *chunk) bool {
	for _, abbr := range asm.abbreviations {
		if abbr.Chunk == c {
			return true
		}
	}

	return false
}

func (asm *assembler) size(c *chunk) {
	switch c.Kind {
	case CHUNK_BYTES:
		c.Size = uint32(len(c.Bytes))

	case CHUNK_WORDS:
		c.Size = 2 * uint32(len(c.Words))

	case CHUNK_ROUTINE:
		c.Size = 1 + 2*uint32(len(c.Words))

	case CHUNK_STRING:
		c.zwords = encoding.PackZChars(asm.encodeText(c.Text, !asm.isAbbreviation(c)))
		c.Size = 2 * uint32(len(c.zwords))

	case CHUNK_CODE:
		st := c.Code
		size := uint32(1)

		if !st.Long && st.Info.Form() != encoding.FORM_1OP && st.Info.Form() != encoding.FORM_0OP {
			size++
		}

		for _, t := range st.Types {
			if t == TYPE_LARGE {
				size += 2
			} else {
				size++
			}
		}

		if st.Info.Store {
			size++
		}

		if st.Branch != nil {
			if st.Branch.Label != "" {
				size += 2
			} else {
				size++
			}
		}

		if st.Info.Text {
			size += 2 * uint32(len(encoding.PackZChars(st.zchars)))
		}

		c.Size = size
	}
}

func align(addr uint32) uint32 {
	return (addr + 1) &^ 1
}

// Lays out every table and chunk, resolves labels and writes the image.
//
// header | abbreviation table | object table | property tables | globals |
// data | dictionary (static base) | strings and routines (high base)
func (asm *assembler) link() []byte {
	addr := uint32(HEADER_SIZE)

	abbrTable := addr
	addr += 2 * ABBREVIATION_COUNT

	objectTable := addr
	addr += 2*DEFAULT_PROPERTIES + OBJECT_ENTRY_SIZE*uint32(len(asm.objects))

	for _, obj := range asm.objects {
		obj.tableAddr = addr
		obj.tableSize = asm.propertyTableSize(obj)
		addr += obj.tableSize
	}

	globals := addr
	addr += 2 * GLOBAL_COUNT

	for _, c := range asm.data {
		c.Addr = addr
		addr += c.Size
	}

	dictionary := addr
	keys := asm.dictionaryKeys()
	addr += 1 + uint32(len(asm.separators)) + 1 + 2 + DICT_ENTRY_LENGTH*uint32(len(keys))

	asm.dictEntries = make(map[[2]uint16]uint32, len(keys))
	entries := dictionary + 1 + uint32(len(asm.separators)) + 3

	for i, key := range keys {
		asm.dictEntries[key] = entries + DICT_ENTRY_LENGTH*uint32(i)
	}

	if addr > 0xFFFF {
		asm.fail(&OversizedBinaryError{})
		return nil
	}

	highBase := align(addr)
	addr = highBase

	for _, c := range asm.high {
		if c.Align {
			addr = align(addr)
		}

		c.Addr = addr
		addr += c.Size
	}

	end := align(addr)

	if end > STORY_MAX_SIZE || asm.start.Addr > 0xFFFF {
		asm.fail(&OversizedBinaryError{})
		return nil
	}

	image := make([]byte, end)

	// Abbreviations
	for i, abbr := range asm.abbreviations {
		encoding.PutWord(image, abbrTable+2*uint32(i), uint16(abbr.Chunk.Addr/2))
	}

	// Objects
	for i, value := range asm.defaults {
		encoding.PutWord(image, objectTable+2*uint32(i), value)
	}

	asm.writeObjects(image, objectTable+2*DEFAULT_PROPERTIES)

	// Globals
	for i, g := range asm.globals {
		encoding.PutWord(image, globals+2*uint32(i), asm.value(&g.Init))
	}

	// Data and high memory
	for _, c := range asm.data {
		asm.writeChunk(image, c)
	}

	asm.writeDictionary(image, dictionary, keys)

	for _, c := range asm.high {
		asm.writeChunk(image, c)
	}

	// Header
	image[0x00] = STORY_VERSION
	encoding.PutWord(image, 0x02, asm.release)
	encoding.PutWord(image, 0x04, uint16(highBase))
	encoding.PutWord(image, 0x06, uint16(asm.start.Addr))
	encoding.PutWord(image, 0x08, uint16(dictionary))
	encoding.PutWord(image, 0x0A, uint16(objectTable))
	encoding.PutWord(image, 0x0C, uint16(globals))
	encoding.PutWord(image, 0x0E, uint16(dictionary))
	copy(image[0x12:0x18], asm.serial)
	encoding.PutWord(image, 0x18, uint16(abbrTable))
	encoding.PutWord(image, 0x1A, uint16(end/2))

	var sum uint16

	for _, b := range image[HEADER_SIZE:] {
		sum += uint16(b)
	}

	encoding.PutWord(image, 0x1C, sum)

	if asm.symtable != nil {
		for name, sym := range asm.labels {
			if sym.Chunk != nil {
				asm.symtable.Labels[sym.Chunk.Addr] = name
			}
		}
	}

	return image
}

func (asm *assembler) dictionaryKeys() [][2]uint16 {
	seen := make(map[[2]uint16]bool, len(asm.words))
	keys := make([][2]uint16, 0, len(asm.words))

	for _, word := range asm.words {
		key := encoding.EncodeDictWord(word)

		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		return encoding.CompareDictWords(keys[i], keys[j]) < 0
	})

	return keys
}

func (asm *assembler) writeDictionary(image []byte, addr uint32, keys [][2]uint16) {
	image[addr] = uint8(len(asm.separators))
	copy(image[addr+1:], asm.separators)

	cursor := addr + 1 + uint32(len(asm.separators))
	image[cursor] = DICT_ENTRY_LENGTH
	encoding.PutWord(image, cursor+1, uint16(len(keys)))

	for _, key := range keys {
		entry := asm.dictEntries[key]
		encoding.PutWord(image, entry, key[0])
		encoding.PutWord(image, entry+2, key[1])
	}
}

func (asm *assembler) propertyTableSize(obj *object) uint32 {
	name := encoding.PackZChars(encoding.EncodeText(obj.Name))

	if obj.Name == "" {
		name = nil
	}

	size := 1 + 2*uint32(len(name))

	for _, prop := range obj.Properties {
		size += 1 + prop.size()
	}

	return size + 1
}

func (prop *property) size() uint32 {
	if prop.Wide {
		return 2 * uint32(len(prop.Values))
	}

	return uint32(len(prop.Values))
}

func (asm *assembler) writeObjects(image []byte, first uint32) {
	children := make(map[int][]int)

	for i, obj := range asm.objects {
		if obj.Parent == nil {
			continue
		}

		parent := int(asm.value(obj.Parent))

		if parent < 0 || parent > len(asm.objects) || parent == i+1 {
			asm.fail(&OversizedLiteralError{obj.Parent.Token.Position, len(asm.objects), parent})
			continue
		}

		if parent != 0 {
			children[parent] = append(children[parent], i+1)
		}
	}

	for i, obj := range asm.objects {
		number := i + 1
		entry := first + OBJECT_ENTRY_SIZE*uint32(i)

		copy(image[entry:entry+4], obj.Attributes[:])

		if obj.Parent != nil {
			image[entry+4] = uint8(asm.value(obj.Parent))
		}

		if kids := children[number]; len(kids) > 0 {
			image[entry+6] = uint8(kids[0])

			for k := 0; k+1 < len(kids); k++ {
				sibling := first + OBJECT_ENTRY_SIZE*uint32(kids[k]-1)
				image[sibling+5] = uint8(kids[k+1])
			}
		}

		encoding.PutWord(image, entry+7, uint16(obj.tableAddr))

		asm.writePropertyTable(image, obj)
	}
}

func (asm *assembler) writePropertyTable(image []byte, obj *object) {
	cursor := obj.tableAddr

	var name []uint16

	if obj.Name != "" {
		name = encoding.PackZChars(encoding.EncodeText(obj.Name))
	}

	image[cursor] = uint8(len(name))
	cursor++

	for _, word := range name {
		encoding.PutWord(image, cursor, word)
		cursor += 2
	}

	props := append([]*property(nil), obj.Properties...)

	// Stored in descending order
	sort.Slice(props, func(i, j int) bool {
		return props[i].Number > props[j].Number
	})

	for _, prop := range props {
		size := prop.size()

		if size == 0 || size > PROPERTY_MAX_SIZE {
			asm.fail(&LimitExceededError{prop.Token.Position, "property bytes", PROPERTY_MAX_SIZE})
			continue
		}

		image[cursor] = uint8(32*(size-1)) + uint8(prop.Number)
		cursor++

		for i := range prop.Values {
			value := asm.value(&prop.Values[i])

			if prop.Wide {
				encoding.PutWord(image, cursor, value)
				cursor += 2
			} else {
				image[cursor] = uint8(value)
				cursor++
			}
		}
	}

	image[cursor] = 0
}

// Resolves an operand to the word it stands for.
func (asm *assembler) value(op *operand) uint16 {
	if op.Kind != OPERAND_KIND_LABEL {
		return op.Value
	}

	sym, exists := asm.labels[op.Label]

	if !exists {
		asm.fail(&UnknownLabelError{op.Token.Position, op.Label})
		return 0
	}

	var value uint32

	switch sym.Type {
	case LABEL_ADDR:
		value = sym.Chunk.Addr
	case LABEL_PACKED:
		value = sym.Chunk.Addr / 2
	case LABEL_OBJECT:
		value = uint32(sym.Object)
	case LABEL_DICT:
		value = asm.dictEntries[encoding.EncodeDictWord(sym.Word)]
	}

	if value > 0xFFFF {
		asm.fail(&OversizedLiteralError{op.Token.Position, 0xFFFF, value})
		return 0
	}

	return uint16(value)
}

// Address of a label for branches and jumps.
func (asm *assembler) target(name string, token *Token) (uint32, bool) {
	sym, exists := asm.labels[name]

	if !exists || sym.Chunk == nil {
		asm.fail(&UnknownLabelError{token.Position, name})
		return 0, false
	}

	return sym.Chunk.Addr, true
}

func (asm *assembler) writeChunk(image []byte, c *chunk) {
	switch c.Kind {
	case CHUNK_BYTES:
		copy(image[c.Addr:], c.Bytes)

	case CHUNK_WORDS:
		for i := range c.Words {
			encoding.PutWord(image, c.Addr+2*uint32(i), asm.value(&c.Words[i]))
		}

	case CHUNK_ROUTINE:
		image[c.Addr] = uint8(len(c.Words))

		for i := range c.Words {
			encoding.PutWord(image, c.Addr+1+2*uint32(i), asm.value(&c.Words[i]))
		}

	case CHUNK_STRING:
		for i, word := range c.zwords {
			encoding.PutWord(image, c.Addr+2*uint32(i), word)
		}

	case CHUNK_CODE:
		copy(image[c.Addr:], asm.encodeStatement(c))

		if asm.symtable != nil {
			asm.symtable.Symbols[c.Addr] = c.Code.LineByte
		}
	}
}

func (asm *assembler) encodeStatement(c *chunk) []byte {
	st := c.Code
	number := st.Info.Number
	out := make([]byte, 0, c.Size)
	next := c.Addr + c.Size

	values := make([]uint16, len(st.Operands))

	for i := range st.Operands {
		op := &st.Operands[i]

		// Jump takes an offset, not an address
		if number == encoding.OP_JUMP && op.Kind == OPERAND_KIND_LABEL {
			target, ok := asm.target(op.Label, &op.Token)

			if !ok {
				continue
			}

			offset := int64(target) - int64(next) + 2

			if offset < -32768 || offset > 32767 {
				asm.fail(&OversizedLabelError{op.Token.Position, 32767, offset})
				continue
			}

			values[i] = uint16(offset)
			continue
		}

		values[i] = asm.value(op)
	}

	switch st.Info.Form() {
	case encoding.FORM_0OP:
		out = append(out, 0xB0|(number-176))

	case encoding.FORM_1OP:
		out = append(out, 0x80|st.Types[0]<<4|(number-128))

	case encoding.FORM_2OP:
		if st.Long {
			b := number

			if st.Types[0] == TYPE_VAR {
				b |= 0x40
			}

			if st.Types[1] == TYPE_VAR {
				b |= 0x20
			}

			out = append(out, b)
		} else {
			out = append(out, 0xC0|number, typeByte(st.Types))
		}

	case encoding.FORM_VAR:
		out = append(out, 0xE0|(number-224), typeByte(st.Types))
	}

	for i, t := range st.Types {
		if t == TYPE_LARGE {
			out = append(out, uint8(values[i]>>8), uint8(values[i]))
		} else {
			out = append(out, uint8(values[i]))
		}
	}

	if st.Info.Store {
		out = append(out, st.Store)
	}

	if st.Branch != nil {
		out = append(out, asm.encodeBranch(st.Branch, c.Addr+uint32(len(out)))...)
	}

	if st.Info.Text {
		for _, word := range encoding.PackZChars(st.zchars) {
			out = append(out, uint8(word>>8), uint8(word))
		}
	}

	return out
}

func typeByte(types []uint8) uint8 {
	b := uint8(0xFF)

	for i, t := range types {
		shift := uint(6 - 2*i)
		b &^= 0x03 << shift
		b |= t << shift
	}

	return b
}

// Branches to labels always use the two-byte form, so the offset is
// measured from the branch data itself.
func (asm *assembler) encodeBranch(branch *branchTarget, addr uint32) []byte {
	if branch.Label == "" {
		out, _ := encoding.EncodeBranch(branch.OnTrue, branch.Offset, false)
		return out
	}

	target, ok := asm.target(branch.Label, &branch.Token)

	if !ok {
		return []byte{0, 0}
	}

	offset := int64(target) - int64(addr)

	limit := int64(encoding.BRANCH_LONG_MAX)

	// Offsets 0 and 1 would read back as rfalse and rtrue
	if offset < int64(encoding.BRANCH_LONG_MIN) || offset > limit || offset == 0 || offset == 1 {
		asm.fail(&OversizedLabelError{branch.Token.Position, limit, offset})
		return []byte{0, 0}
	}

	out, err := encoding.EncodeBranch(branch.OnTrue, int16(offset), true)

	if err != nil {
		asm.fail(&OversizedLabelError{branch.Token.Position, limit, offset})
		return []byte{0, 0}
	}

	return out
}
