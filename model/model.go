package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Component is any addressable piece of a model: a *Var, a *Con or a *Block.
// The concrete type tells callers what they can do with it; there is no
// reflection-based capability probing.
type Component interface {
	Path() string
}

// Block is a named grouping of variables, constraints and child blocks.
// Components are added once at model-construction time; tool callers mutate
// their fields but never add or remove components afterwards.
type Block struct {
	name     string
	path     string // dotted path from the root, "" for the root itself
	vars     map[string]*Var
	cons     map[string]*Con
	children map[string]*Block

	// optional report hook, invoked by the flowsheet report tool
	report func() (string, error)
}

// Model is the single mutable root block of a component tree. One model per
// process; callers are expected to serialize access (see the dispatch queue),
// the model itself holds no lock.
type Model struct {
	*Block
}

// New returns an empty model.
func New() *Model {
	return &Model{Block: newBlock("", "")}
}

func newBlock(name, path string) *Block {
	return &Block{
		name:     name,
		path:     path,
		vars:     make(map[string]*Var),
		cons:     make(map[string]*Con),
		children: make(map[string]*Block),
	}
}

func (b *Block) Path() string { return b.path }

// Name returns the last path segment of the block.
func (b *Block) Name() string { return b.name }

func (b *Block) childPath(name string) string {
	if b.path == "" {
		return name
	}
	return b.path + "." + name
}

// AddBlock creates and returns a nested child block. Panics on a duplicate
// name: model construction bugs should fail loudly, before the server starts.
func (b *Block) AddBlock(name string) *Block {
	if b.taken(name) {
		panic(fmt.Sprintf("model: duplicate component %q in block %q", name, b.path))
	}
	child := newBlock(name, b.childPath(name))
	b.children[name] = child
	return child
}

// AddVar creates a variable with the given initial value. Use math.NaN() for
// an undefined value.
func (b *Block) AddVar(name string, value float64) *Var {
	if b.taken(name) {
		panic(fmt.Sprintf("model: duplicate component %q in block %q", name, b.path))
	}
	v := &Var{path: b.childPath(name), value: value}
	b.vars[name] = v
	return v
}

// AddCon creates an inequality constraint with the given body and no bounds.
// Set bounds afterwards, or use AddEq for an equality.
func (b *Block) AddCon(name string, body Expr) *Con {
	if b.taken(name) {
		panic(fmt.Sprintf("model: duplicate component %q in block %q", name, b.path))
	}
	c := &Con{path: b.childPath(name), body: body, active: true}
	b.cons[name] = c
	return c
}

// AddEq creates an equality constraint body == rhs.
func (b *Block) AddEq(name string, body Expr, rhs float64) *Con {
	c := b.AddCon(name, body)
	c.lower = &rhs
	c.upper = &rhs
	return c
}

func (b *Block) taken(name string) bool {
	if _, ok := b.vars[name]; ok {
		return true
	}
	if _, ok := b.cons[name]; ok {
		return true
	}
	_, ok := b.children[name]
	return ok
}

// SetReport installs the block's report hook.
func (b *Block) SetReport(fn func() (string, error)) { b.report = fn }

// Report runs the block's report hook. ok is false when the block has none.
func (b *Block) Report() (text string, err error, ok bool) {
	if b.report == nil {
		return "", nil, false
	}
	text, err = b.report()
	return text, err, true
}

// Resolve walks a dotted path from this block and returns the component it
// names. The second return is false when any segment is missing.
func (b *Block) Resolve(path string) (Component, bool) {
	cur := b
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		last := i == len(segs)-1
		if last {
			if v, ok := cur.vars[seg]; ok {
				return v, true
			}
			if c, ok := cur.cons[seg]; ok {
				return c, true
			}
			if child, ok := cur.children[seg]; ok {
				return child, true
			}
			return nil, false
		}
		child, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = child
	}
	return nil, false
}

// Child returns a direct child block by name.
func (b *Block) Child(name string) (*Block, bool) {
	c, ok := b.children[name]
	return c, ok
}

// Children returns direct child blocks sorted by name.
func (b *Block) Children() []*Block {
	names := make([]string, 0, len(b.children))
	for n := range b.children {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Block, 0, len(names))
	for _, n := range names {
		out = append(out, b.children[n])
	}
	return out
}

// Vars returns every variable under this block, depth first, sorted by path.
func (b *Block) Vars() []*Var {
	var out []*Var
	b.walk(func(blk *Block) {
		for _, v := range blk.vars {
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// Cons returns every constraint under this block, depth first, sorted by path.
func (b *Block) Cons() []*Con {
	var out []*Con
	b.walk(func(blk *Block) {
		for _, c := range blk.cons {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

func (b *Block) walk(fn func(*Block)) {
	fn(b)
	for _, child := range b.Children() {
		child.walk(fn)
	}
}

// DegreesOfFreedom is free variables minus active constraints. It is a live
// structural property of the current fixed/active state, never cached.
func (b *Block) DegreesOfFreedom() int {
	free := 0
	for _, v := range b.Vars() {
		if !v.fixed {
			free++
		}
	}
	active := 0
	for _, c := range b.Cons() {
		if c.active {
			active++
		}
	}
	return free - active
}

// FreeVars returns the unfixed variables sorted by path.
func (b *Block) FreeVars() []*Var {
	var out []*Var
	for _, v := range b.Vars() {
		if !v.fixed {
			out = append(out, v)
		}
	}
	return out
}

// ActiveCons returns the active constraints sorted by path.
func (b *Block) ActiveCons() []*Con {
	var out []*Con
	for _, c := range b.Cons() {
		if c.active {
			out = append(out, c)
		}
	}
	return out
}

// Var is a named numeric unknown. A NaN value means undefined. When fixed,
// the value is authoritative and the variable is excluded from the solver's
// free set. Bound consistency (lower <= upper) is the caller's responsibility.
type Var struct {
	path         string
	value        float64
	lower, upper *float64
	fixed        bool
}

func (v *Var) Path() string { return v.path }

func (v *Var) Value() float64         { return v.value }
func (v *Var) SetValue(value float64) { v.value = value }

func (v *Var) Fixed() bool { return v.fixed }

// Fix sets the value and marks the variable fixed.
func (v *Var) Fix(value float64) {
	v.value = value
	v.fixed = true
}

func (v *Var) Unfix() { v.fixed = false }

// Lower returns the lower bound, nil when unbounded.
func (v *Var) Lower() *float64 { return v.lower }

// Upper returns the upper bound, nil when unbounded.
func (v *Var) Upper() *float64 { return v.upper }

// SetLower sets or clears (nil) the lower bound.
func (v *Var) SetLower(bound *float64) { v.lower = bound }

// SetUpper sets or clears (nil) the upper bound.
func (v *Var) SetUpper(bound *float64) { v.upper = bound }

// SetBounds sets both bounds at once; either may be nil.
func (v *Var) SetBounds(lower, upper *float64) {
	v.lower = lower
	v.upper = upper
}

// Expr returns an expression that reads the variable's current value.
func (v *Var) Expr() Expr {
	return func() float64 { return v.value }
}

// EqualityTolerance is the bound coincidence tolerance below which a
// constraint is treated as an equality.
const EqualityTolerance = 1e-12

// Con is a named constraint over an expression body. Inactive constraints are
// excluded from the system the solver sees.
type Con struct {
	path         string
	body         Expr
	lower, upper *float64
	active       bool
}

func (c *Con) Path() string { return c.path }

// Body returns the constraint's body expression.
func (c *Con) Body() Expr { return c.body }

func (c *Con) Active() bool          { return c.active }
func (c *Con) SetActive(active bool) { c.active = active }

func (c *Con) Lower() *float64 { return c.lower }
func (c *Con) Upper() *float64 { return c.upper }

func (c *Con) SetLower(bound *float64) { c.lower = bound }
func (c *Con) SetUpper(bound *float64) { c.upper = bound }

// IsEquality reports whether both bounds are present and coincide within
// EqualityTolerance.
func (c *Con) IsEquality() bool {
	return c.lower != nil && c.upper != nil && math.Abs(*c.lower-*c.upper) <= EqualityTolerance
}
