// Package env holds shell variables and converts them to and from process
// environments.
package env

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/expand"
)

const (
	Home   = "HOME"
	PWD    = "PWD"
	OldPWD = "OLDPWD"
	Path   = "PATH"
	Prompt = "PS1"
	IFS    = "IFS"
	User   = "USER"
)

// ErrReadOnly is returned when assigning to a read-only variable.
var ErrReadOnly = errors.New("readonly variable")

// Vars is a concurrency safe variable store. It implements
// expand.WriteEnviron so it can drive word expansion directly.
type Vars struct {
	rw   sync.RWMutex
	vars map[string]expand.Variable
}

var _ expand.WriteEnviron = (*Vars)(nil)

func NewVars() *Vars {
	return &Vars{vars: make(map[string]expand.Variable)}
}

// NewVarsFromEnviron creates a store from KEY=VALUE pairs, all of which
// are exported. Entries without '=' get an empty value.
func NewVarsFromEnviron(environ []string) *Vars {
	out := NewVars()
	for _, e := range environ {
		key, value, _ := strings.Cut(e, "=")
		if key == "" {
			continue
		}
		out.vars[key] = expand.Variable{Set: true, Exported: true, Kind: expand.String, Str: value}
	}
	return out
}

// Get implements expand.Environ.
func (v *Vars) Get(name string) expand.Variable {
	v.rw.RLock()
	defer v.rw.RUnlock()
	return v.vars[name]
}

// Each implements expand.Environ.
func (v *Vars) Each(fn func(name string, vr expand.Variable) bool) {
	v.rw.RLock()
	names := make([]string, 0, len(v.vars))
	for name := range v.vars {
		names = append(names, name)
	}
	v.rw.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		vr := v.Get(name)
		if !vr.Declared() {
			continue
		}
		if !fn(name, vr) {
			return
		}
	}
}

// Set implements expand.WriteEnviron.
func (v *Vars) Set(name string, vr expand.Variable) error {
	if name == "" {
		return errors.New("empty variable name")
	}

	v.rw.Lock()
	defer v.rw.Unlock()

	prev, ok := v.vars[name]
	if ok && prev.ReadOnly {
		if vr.Kind == expand.KeepValue && vr.ReadOnly {
			return nil
		}
		return fmt.Errorf("%s: %w", name, ErrReadOnly)
	}

	switch {
	case vr.Kind == expand.KeepValue:
		prev.Exported = prev.Exported || vr.Exported
		prev.ReadOnly = prev.ReadOnly || vr.ReadOnly
		v.vars[name] = prev
	case !vr.IsSet() && !vr.Declared():
		delete(v.vars, name)
	default:
		vr.Exported = vr.Exported || prev.Exported
		v.vars[name] = vr
	}
	return nil
}

// Restore puts back a variable exactly as Get returned it earlier,
// attributes included. A zero Variable removes the name. Read-only is not
// checked, since the caller saved the value itself.
func (v *Vars) Restore(name string, vr expand.Variable) {
	v.rw.Lock()
	defer v.rw.Unlock()

	if !vr.IsSet() && !vr.Declared() {
		delete(v.vars, name)
		return
	}
	v.vars[name] = vr
}

// LookupEnv returns the string value of a set variable.
func (v *Vars) LookupEnv(name string) (string, bool) {
	vr := v.Get(name)
	return vr.String(), vr.IsSet()
}

func (v *Vars) Getenv(name string) string {
	val, _ := v.LookupEnv(name)
	return val
}

// Setenv assigns a string value, keeping the variable's attributes.
func (v *Vars) Setenv(name, value string) error {
	return v.Set(name, expand.Variable{Set: true, Kind: expand.String, Str: value})
}

// Unsetenv removes a variable.
func (v *Vars) Unsetenv(name string) error {
	return v.Set(name, expand.Variable{})
}

// Export marks a variable for inclusion in child environments. The
// variable does not need to have a value yet.
func (v *Vars) Export(name string) error {
	return v.Set(name, expand.Variable{Kind: expand.KeepValue, Exported: true})
}

// ReadOnly marks a variable as unmodifiable.
func (v *Vars) ReadOnly(name string) error {
	return v.Set(name, expand.Variable{Kind: expand.KeepValue, ReadOnly: true})
}

// Environ returns the exported, set variables as sorted KEY=VALUE pairs.
func (v *Vars) Environ() []string {
	var out []string
	v.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported && vr.IsSet() {
			out = append(out, name+"="+vr.String())
		}
		return true
	})
	return out
}

// Names returns every declared variable name in sorted order.
func (v *Vars) Names() []string {
	var out []string
	v.Each(func(name string, _ expand.Variable) bool {
		out = append(out, name)
		return true
	})
	return out
}

// Clone returns an independent copy of the store.
func (v *Vars) Clone() *Vars {
	v.rw.RLock()
	defer v.rw.RUnlock()

	out := NewVars()
	for name, vr := range v.vars {
		if vr.List != nil {
			vr.List = append([]string(nil), vr.List...)
		}
		if vr.Map != nil {
			m := make(map[string]string, len(vr.Map))
			for k, val := range vr.Map {
				m[k] = val
			}
			vr.Map = m
		}
		out.vars[name] = vr
	}
	return out
}
