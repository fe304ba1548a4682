package syntaxtree

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// SyntaxError is returned for input that cannot be parsed or uses a
// construct this shell does not run.
type SyntaxError struct {
	Pos string
	Msg string

	// Incomplete is set when more input could complete the command, such
	// as an unterminated quote or a missing "fi".
	Incomplete bool
}

func (e *SyntaxError) Error() string {
	if e.Pos == "" {
		return e.Msg
	}
	return e.Pos + ": " + e.Msg
}

// IsIncomplete reports whether err means the input ended too early.
func IsIncomplete(err error) bool {
	var serr *SyntaxError
	return errors.As(err, &serr) && serr.Incomplete
}

// Parse reads POSIX shell source. An empty input yields an empty list.
func Parse(r io.Reader, name string) (*List, error) {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(r, name)
	if err != nil {
		return nil, wrapParseError(err)
	}

	return convertList(file.Stmts)
}

// ParseString is Parse for in-memory source.
func ParseString(src, name string) (*List, error) {
	return Parse(strings.NewReader(src), name)
}

// ConvertStmts converts already parsed statements, such as the body of a
// command substitution.
func ConvertStmts(stmts []*syntax.Stmt) (*List, error) {
	return convertList(stmts)
}

func wrapParseError(err error) error {
	var perr syntax.ParseError
	if errors.As(err, &perr) {
		pos := perr.Pos.String()
		if perr.Filename != "" {
			pos = perr.Filename + ":" + pos
		}
		return &SyntaxError{Pos: pos, Msg: perr.Text, Incomplete: perr.Incomplete}
	}
	var lerr syntax.LangError
	if errors.As(err, &lerr) {
		return &SyntaxError{Msg: lerr.Error()}
	}
	return &SyntaxError{Msg: err.Error()}
}

func unsupported(pos syntax.Pos, what string) error {
	return &SyntaxError{Pos: pos.String(), Msg: what + " are not supported"}
}

func convertList(stmts []*syntax.Stmt) (*List, error) {
	list := &List{}
	var texts []string
	for _, s := range stmts {
		n, err := convertStmt(s)
		if err != nil {
			return nil, err
		}
		list.Nodes = append(list.Nodes, n)
		texts = append(texts, printNode(s))
	}
	list.Text = strings.Join(texts, "; ")
	return list, nil
}

// convertBody returns the single node of a one statement body and a List
// otherwise.
func convertBody(stmts []*syntax.Stmt) (Node, error) {
	list, err := convertList(stmts)
	if err != nil {
		return nil, err
	}
	if len(list.Nodes) == 1 {
		return list.Nodes[0], nil
	}
	return list, nil
}

func convertStmt(s *syntax.Stmt) (Node, error) {
	if s.Coprocess {
		return nil, unsupported(s.Pos(), "coprocesses")
	}

	text := stmtText(s)
	n, err := convertCommand(s, text)
	if err != nil {
		return nil, err
	}
	if s.Negated {
		n = &Not{base: base{text}, Node: n}
	}
	if s.Background {
		n = &Background{base: base{text}, Node: n}
	}
	return n, nil
}

func convertCommand(s *syntax.Stmt, text string) (Node, error) {
	switch c := s.Cmd.(type) {
	case nil:
		return &Command{base: base{text}, Redirs: s.Redirs}, nil

	case *syntax.CallExpr:
		return &Command{base: base{text}, Assigns: c.Assigns, Args: c.Args, Redirs: s.Redirs}, nil

	case *syntax.BinaryCmd:
		left, err := convertStmt(c.X)
		if err != nil {
			return nil, err
		}
		right, err := convertStmt(c.Y)
		if err != nil {
			return nil, err
		}
		var n Node
		switch c.Op {
		case syntax.AndStmt:
			n = &Sequence{base: base{text}, Op: And, Left: left, Right: right}
		case syntax.OrStmt:
			n = &Sequence{base: base{text}, Op: Or, Left: left, Right: right}
		case syntax.Pipe:
			n = &Pipe{base: base{text}, Left: left, Right: right}
		default:
			return nil, unsupported(c.OpPos, fmt.Sprintf("%q pipelines", c.Op.String()))
		}
		return withRedirs(n, s.Redirs, text), nil

	case *syntax.Subshell:
		body, err := convertBody(c.Stmts)
		if err != nil {
			return nil, err
		}
		return &Subshell{base: base{text}, Body: body, Redirs: s.Redirs}, nil

	case *syntax.Block:
		body, err := convertBody(c.Stmts)
		if err != nil {
			return nil, err
		}
		return &Group{base: base{text}, Body: body, Redirs: s.Redirs}, nil

	case *syntax.IfClause:
		n, err := convertIf(c)
		if err != nil {
			return nil, err
		}
		return withRedirs(n, s.Redirs, text), nil

	case *syntax.WhileClause:
		cond, err := convertBody(c.Cond)
		if err != nil {
			return nil, err
		}
		body, err := convertBody(c.Do)
		if err != nil {
			return nil, err
		}
		n := &While{base: base{text}, Cond: cond, Body: body, Until: c.Until}
		return withRedirs(n, s.Redirs, text), nil

	case *syntax.ForClause:
		if c.Select {
			return nil, unsupported(c.Pos(), "select loops")
		}
		iter, ok := c.Loop.(*syntax.WordIter)
		if !ok {
			return nil, unsupported(c.Pos(), "C-style for loops")
		}
		body, err := convertBody(c.Do)
		if err != nil {
			return nil, err
		}
		n := &For{
			base:    base{text},
			Name:    iter.Name.Value,
			Items:   iter.Items,
			InGiven: iter.InPos.IsValid(),
			Body:    body,
		}
		return withRedirs(n, s.Redirs, text), nil

	case *syntax.CaseClause:
		n := &Case{base: base{text}, Word: c.Word}
		for _, item := range c.Items {
			if item.Op != syntax.Break && item.OpPos.IsValid() {
				return nil, unsupported(item.OpPos, fmt.Sprintf("%q case terminators", item.Op.String()))
			}
			body, err := convertBody(item.Stmts)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, &CaseItem{Patterns: item.Patterns, Body: body})
		}
		return withRedirs(n, s.Redirs, text), nil

	case *syntax.FuncDecl:
		return nil, unsupported(c.Pos(), "functions")
	case *syntax.ArithmCmd, *syntax.LetClause:
		return nil, unsupported(c.Pos(), "arithmetic commands")
	case *syntax.TestClause:
		return nil, unsupported(c.Pos(), "test clauses")
	case *syntax.DeclClause:
		return nil, unsupported(c.Pos(), "declarations")
	case *syntax.TimeClause:
		return nil, unsupported(c.Pos(), "time clauses")
	default:
		return nil, unsupported(s.Pos(), fmt.Sprintf("%T commands", c))
	}
}

func convertIf(c *syntax.IfClause) (Node, error) {
	cond, err := convertBody(c.Cond)
	if err != nil {
		return nil, err
	}
	then, err := convertBody(c.Then)
	if err != nil {
		return nil, err
	}
	n := &If{base: base{printNode(c)}, Cond: cond, Then: then}

	switch {
	case c.Else == nil:
	case !c.Else.ThenPos.IsValid():
		// plain else
		if n.Else, err = convertBody(c.Else.Then); err != nil {
			return nil, err
		}
	default:
		if n.Else, err = convertIf(c.Else); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func withRedirs(n Node, redirs []*syntax.Redirect, text string) Node {
	if len(redirs) == 0 {
		return n
	}
	return &Group{base: base{text}, Body: n, Redirs: redirs}
}

// stmtText prints a statement without its trailing '&'.
func stmtText(s *syntax.Stmt) string {
	cp := *s
	cp.Background = false
	cp.Comments = nil
	return printNode(&cp)
}

func printNode(n syntax.Node) string {
	var buf bytes.Buffer
	if err := syntax.NewPrinter(syntax.SingleLine(true)).Print(&buf, n); err != nil {
		buf.Reset()
		// Here-documents cannot be printed on a single line.
		if err := syntax.NewPrinter().Print(&buf, n); err != nil {
			return ""
		}
	}
	return strings.TrimSpace(buf.String())
}
