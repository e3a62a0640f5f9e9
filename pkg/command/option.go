// Package command renders shell invocations from ordered option lists.
//
// An Option is a closed variant over four shapes:
//
//	FlagValue  --name "value"
//	Flag       --name
//	Exec       bin args
//	Literal    text as-is
//
// Options carrying an absent value render to nothing and are dropped from the
// joined output instead of producing an empty flag.
package command

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies the shape of an Option.
type Kind uint8

const (
	// KindNone is the zero Kind. Options of this kind never render.
	KindNone Kind = iota
	KindFlagValue
	KindFlag
	KindExec
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindFlagValue:
		return "flag-value"
	case KindFlag:
		return "flag"
	case KindExec:
		return "exec"
	case KindLiteral:
		return "literal"
	default:
		return "none"
	}
}

// Option is one element of an invocation. Construct it with the helpers
// below; the zero value is absent.
type Option struct {
	kind  Kind
	name  string
	value string
	set   bool
}

// Value returns a flag option `--name "value"`.
func Value(name, value string) Option {
	return Option{kind: KindFlagValue, name: name, value: value, set: true}
}

// OptionalValue returns a flag option that is absent when value is nil.
func OptionalValue(name string, value *string) Option {
	if value == nil {
		return Option{kind: KindFlagValue, name: name}
	}
	return Value(name, *value)
}

// Int returns a flag option with an integer value.
func Int(name string, v int) Option {
	return Value(name, strconv.Itoa(v))
}

// OptionalInt returns an integer flag option that is absent when v is nil.
func OptionalInt(name string, v *int) Option {
	if v == nil {
		return Option{kind: KindFlagValue, name: name}
	}
	return Int(name, *v)
}

// Float returns a flag option with a float value in shortest form. Whole
// values keep one decimal, so 4 renders as "4.0".
func Float(name string, v float64) Option {
	if v == math.Trunc(v) && math.Abs(v) < 1e16 {
		return Value(name, strconv.FormatFloat(v, 'f', 1, 64))
	}
	return Value(name, strconv.FormatFloat(v, 'g', -1, 64))
}

// Flag returns a no-value flag `--name`.
func Flag(name string) Option {
	return Option{kind: KindFlag, name: name, set: true}
}

// Switch returns Flag(name) when on is true and an absent option otherwise.
func Switch(name string, on bool) Option {
	if !on {
		return Option{kind: KindFlag, name: name}
	}
	return Flag(name)
}

// Exec returns a raw two-token invocation `bin args`.
func Exec(bin, args string) Option {
	return Option{kind: KindExec, name: bin, value: args, set: true}
}

// Literal returns text that is passed through unchanged.
func Literal(text string) Option {
	return Option{kind: KindLiteral, value: text, set: true}
}

// Kind returns the option shape.
func (o Option) Kind() Kind { return o.kind }

// Name returns the flag name or executable.
func (o Option) Name() string { return o.name }

// Present reports whether the option renders to anything.
func (o Option) Present() bool { return o.set && o.kind != KindNone }

// Render returns the textual form of a single option and whether it is
// present.
func (o Option) Render() (string, bool) {
	if !o.Present() {
		return "", false
	}
	switch o.kind {
	case KindFlagValue:
		return "--" + o.name + ` "` + o.value + `"`, true
	case KindFlag:
		return "--" + o.name, true
	case KindExec:
		return o.name + " " + o.value, true
	case KindLiteral:
		return o.value, true
	default:
		return "", false
	}
}

// Render joins the present options with single spaces, in input order.
func Render(opts []Option) string {
	var b strings.Builder
	for _, o := range opts {
		s, ok := o.Render()
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	return b.String()
}
