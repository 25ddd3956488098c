// Package scopes implements named permission bitfields. A Registry maps
// capability names to fixed bit positions; a Bitfield wraps a persisted
// integer against one registry.
//
// Positions are permanent. Persisted API key scopes and member permissions
// depend on them, so a table may only ever grow.
package scopes

import (
	"fmt"
	"math/bits"
	"slices"
	"strings"

	"github.com/e2llm/chartrepo/pkg/errcode"
)

// MaxPositions is the width of a Bitfield value.
const MaxPositions = 64

// Flag is one named capability.
type Flag struct {
	Name     string
	Position uint
}

// Bit returns the mask for f.
func (f Flag) Bit() uint64 { return 1 << f.Position }

// Registry is an immutable name to bit position table.
type Registry struct {
	name   string
	flags  []Flag
	byName map[string]uint
	max    uint64
}

// NewRegistry validates table and builds a Registry from it. Positions must be
// unique and below MaxPositions.
func NewRegistry(name string, table map[string]uint) (*Registry, error) {
	r := &Registry{name: name, byName: make(map[string]uint, len(table))}
	taken := make(map[uint]string, len(table))
	for flag, pos := range table {
		if flag == "" {
			return nil, fmt.Errorf("%s: empty flag name", name)
		}
		if pos >= MaxPositions {
			return nil, fmt.Errorf("%s: flag %q at position %d exceeds %d bits", name, flag, pos, MaxPositions)
		}
		if other, ok := taken[pos]; ok {
			return nil, fmt.Errorf("%s: flags %q and %q share position %d", name, other, flag, pos)
		}
		taken[pos] = flag
		r.byName[flag] = pos
		r.flags = append(r.flags, Flag{Name: flag, Position: pos})
		r.max |= 1 << pos
	}
	slices.SortFunc(r.flags, func(a, b Flag) int { return int(a.Position) - int(b.Position) })
	return r, nil
}

func (r *Registry) Name() string { return r.name }

// Max is the union of every registered bit.
func (r *Registry) Max() uint64 { return r.max }

// Flags returns every registered flag in position order.
func (r *Registry) Flags() []Flag { return slices.Clone(r.flags) }

// Bit returns the mask for name.
func (r *Registry) Bit(name string) (uint64, bool) {
	pos, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return 1 << pos, true
}

// Init wraps a stored value. Bits outside the registry are kept as-is so a
// value written by a newer table survives a round trip.
func (r *Registry) Init(stored uint64) Bitfield {
	return Bitfield{reg: r, value: stored}
}

// FromNames builds a Bitfield holding the named flags.
func (r *Registry) FromNames(names ...string) (Bitfield, error) {
	b := r.Init(0)
	if err := b.AddFlags(names...); err != nil {
		return Bitfield{}, err
	}
	return b, nil
}

// All returns a Bitfield with every registered flag set.
func (r *Registry) All() Bitfield {
	return r.Init(r.max)
}

// Bitfield is a set of flags from one Registry.
type Bitfield struct {
	reg   *Registry
	value uint64
}

func (b Bitfield) Registry() *Registry { return b.reg }
func (b Bitfield) Value() uint64       { return b.value }

// Contains reports whether any bit of mask is set.
func (b Bitfield) Contains(mask uint64) bool {
	return b.value&mask != 0
}

// ContainsFlag reports whether the named flag is set. Unknown names are never
// contained.
func (b Bitfield) ContainsFlag(name string) bool {
	if b.reg == nil {
		return false
	}
	bit, ok := b.reg.Bit(name)
	return ok && b.Contains(bit)
}

// Add sets masks, ignoring bits the registry does not define.
func (b *Bitfield) Add(masks ...uint64) {
	if b.reg == nil {
		return
	}
	for _, m := range masks {
		b.value |= m & b.reg.max
	}
}

// AddFlags sets the named flags.
func (b *Bitfield) AddFlags(names ...string) error {
	if b.reg == nil {
		return errcode.New(errcode.InvalidInput, "bitfield has no registry")
	}
	for _, name := range names {
		bit, ok := b.reg.Bit(name)
		if !ok {
			return errcode.New(errcode.InvalidInput, "unknown %s flag %q", b.reg.name, name)
		}
		b.value |= bit
	}
	return nil
}

// Remove clears masks.
func (b *Bitfield) Remove(masks ...uint64) {
	for _, m := range masks {
		b.value &^= m
	}
}

// Flags lists the set flags in position order.
func (b Bitfield) Flags() []Flag {
	if b.reg == nil {
		return nil
	}
	out := make([]Flag, 0, bits.OnesCount64(b.value&b.reg.max))
	for _, f := range b.reg.flags {
		if b.value&f.Bit() != 0 {
			out = append(out, f)
		}
	}
	return out
}

// Names lists the set flag names in position order.
func (b Bitfield) Names() []string {
	flags := b.Flags()
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.Name)
	}
	return out
}

func (b Bitfield) String() string {
	return fmt.Sprintf("%d [%s]", b.value, strings.Join(b.Names(), " "))
}

// Require fails with PermissionDenied unless the named flag is set.
func Require(b Bitfield, name string) error {
	if b.ContainsFlag(name) {
		return nil
	}
	return errcode.New(errcode.PermissionDenied, "missing %q permission", name)
}
