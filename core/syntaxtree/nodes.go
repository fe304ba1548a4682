// Package syntaxtree converts POSIX shell source into the closed set of
// command nodes the executor understands.
package syntaxtree

import (
	"mvdan.cc/sh/v3/syntax"
)

// Node is a parsed command. The set of implementations is closed; every
// concrete type is defined in this package.
type Node interface {
	// Source is the command text as shown in job listings.
	Source() string
	node()
}

type base struct {
	Text string
}

func (b *base) Source() string { return b.Text }
func (*base) node()            {}

// Command is a simple command: assignments, words and redirections. Any
// of them may be empty.
type Command struct {
	base
	Assigns []*syntax.Assign
	Args    []*syntax.Word
	Redirs  []*syntax.Redirect
}

// Pipe connects the standard output of Left to the standard input of
// Right.
type Pipe struct {
	base
	Left, Right Node
}

// Stages flattens a chain of pipes into pipeline order.
func (p *Pipe) Stages() []Node {
	var out []Node
	var walk func(n Node)
	walk = func(n Node) {
		if inner, ok := n.(*Pipe); ok {
			walk(inner.Left)
			walk(inner.Right)
			return
		}
		out = append(out, n)
	}
	walk(p)
	return out
}

// List runs its nodes one after another, as separated by ';' or newlines.
type List struct {
	base
	Nodes []Node
}

type SeqOp int

const (
	And SeqOp = iota // &&
	Or               // ||
)

func (o SeqOp) String() string {
	if o == Or {
		return "||"
	}
	return "&&"
}

// Sequence runs Right depending on the status of Left.
type Sequence struct {
	base
	Op          SeqOp
	Left, Right Node
}

// If runs Then when Cond succeeds and Else otherwise. Else is nil when
// there is no else branch; elif chains nest If nodes.
type If struct {
	base
	Cond, Then, Else Node
}

type While struct {
	base
	Cond, Body Node
	Until      bool
}

// For binds Name to each item in turn. Without an "in" clause InGiven is
// false and the positional parameters are used.
type For struct {
	base
	Name    string
	Items   []*syntax.Word
	InGiven bool
	Body    Node
}

type Case struct {
	base
	Word  *syntax.Word
	Items []*CaseItem
}

type CaseItem struct {
	Patterns []*syntax.Word
	Body     Node
}

// Subshell runs Body in an isolated copy of the shell.
type Subshell struct {
	base
	Body   Node
	Redirs []*syntax.Redirect
}

// Group runs Body in the current shell. Compound commands with
// redirections are also represented as groups.
type Group struct {
	base
	Body   Node
	Redirs []*syntax.Redirect
}

// Background runs Node as an asynchronous job.
type Background struct {
	base
	Node Node
}

// Not inverts the exit status of Node.
type Not struct {
	base
	Node Node
}
