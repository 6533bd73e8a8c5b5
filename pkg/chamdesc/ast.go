package chamdesc

import "github.com/alecthomas/participle/v2/lexer"

// File is a complete table description.
//
//	table "EM04A_IC001" model 'A' revision 12 magic 0xCDEF
//	unit "16Z034_GPIO" devid 0x22 modcode 0x0a instance 0 irq 2 bar 0 offset 0x400
//	end
type File struct {
	Header *Header `@@`
	Units  []*Unit `@@*`
	End    bool    `@"end"?`
}

// Header is the table line.
type Header struct {
	Pos   lexer.Position
	Name  string  `"table" @String`
	Attrs []*Attr `@@*`
}

// Unit is one unit line.
type Unit struct {
	Pos   lexer.Position
	Name  string  `"unit" @String`
	Attrs []*Attr `@@*`
}

// Attr is a key/value pair on a table or unit line.
type Attr struct {
	Pos   lexer.Position
	Key   string `@( "model" | "revision" | "magic" | "devid" | "modcode" | "group" | "variant" | "instance" | "irq" | "bar" | "offset" | "size" )`
	Value string `@( Hex | Int | Char )`
}
