// Package chamdesc reads textual chameleon table descriptions. They stand in
// for the on-device table when a controller is simulated, or when the table
// of a real controller is decoded outside this process.
package chamdesc

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

// Ext is the file extension of table descriptions.
const Ext = ".cham"

// DescLexer tokenizes table descriptions.
var DescLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s\t\n\r]+`},
	{Name: "Char", Pattern: `'[^'\\]'`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F]+`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
})

// Parser parses table descriptions.
type Parser struct {
	parser *participle.Parser[File]
}

// NewParser builds a description parser.
func NewParser() (*Parser, error) {
	p, err := participle.Build[File](
		participle.Lexer(DescLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.Unquote("String"),
	)
	if err != nil {
		return nil, fmt.Errorf("chamdesc: build parser: %w", err)
	}
	return &Parser{parser: p}, nil
}

// Parse parses a description from r.
func (p *Parser) Parse(r io.Reader) (*File, error) {
	f, err := p.parser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("chamdesc: parse error: %w", err)
	}
	return f, nil
}

// ParseString parses a description held in a string.
func (p *Parser) ParseString(input string) (*File, error) {
	f, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("chamdesc: parse error: %w", err)
	}
	return f, nil
}

// ParseFile parses the description at path.
func (p *Parser) ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chamdesc: open: %w", err)
	}
	defer fh.Close()

	f, err := p.parser.Parse(path, fh)
	if err != nil {
		return nil, fmt.Errorf("chamdesc: parse error: %w", err)
	}
	return f, nil
}

// LoadFile parses path and converts it to a table.
func LoadFile(path string) (table.Table, error) {
	p, err := NewParser()
	if err != nil {
		return table.Table{}, err
	}
	f, err := p.ParseFile(path)
	if err != nil {
		return table.Table{}, err
	}
	return f.Table()
}

// LoadDir loads every description in dir, keyed by file name without the
// extension. Files are parsed concurrently.
func LoadDir(dir string) (map[string]table.Table, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, fmt.Errorf("chamdesc: %w", err)
	}

	var (
		mu     sync.Mutex
		tables = make(map[string]table.Table, len(paths))
		g      errgroup.Group
	)
	for _, path := range paths {
		g.Go(func() error {
			t, err := LoadFile(path)
			if err != nil {
				return fmt.Errorf("chamdesc: %s: %w", path, err)
			}
			key := strings.TrimSuffix(filepath.Base(path), Ext)
			mu.Lock()
			tables[key] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}
