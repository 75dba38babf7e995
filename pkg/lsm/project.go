package lsm

import (
	"bytes"
	"fmt"

	"boulder/internal/pack"
	"boulder/internal/project"
)

// valuePlan builds the projection plan spec.md §4.7 needs to move a tree's
// value_format columns into or out of a single flat buffer: select buffer 0
// as the VALUE target, then walk every column in format order with NEXT.
// There is exactly one dependent cursor here (the value being
// encoded/decoded), not several, since this port has no secondary indices
// to join against — the auxiliary case §4.7 itself calls out.
func (t *Tree) valuePlan() ([]project.Step, error) {
	return project.ParsePlan(fmt.Sprintf("0V%dN", len(t.cfg.ValueFormat)))
}

// argSlice adapts a []pack.Value to project.Args: Pull drains it front to
// back for "in" mode, Push appends to it for "out" mode.
type argSlice struct {
	values []pack.Value
	pos    int
}

func (a *argSlice) Pull(t pack.Type) (pack.Value, error) {
	if a.pos >= len(a.values) {
		return pack.Value{}, fmt.Errorf("project: args exhausted pulling %q", byte(t))
	}
	v := a.values[a.pos]
	a.pos++
	return v, nil
}

func (a *argSlice) Push(v pack.Value) error {
	a.values = append(a.values, v)
	return nil
}

// EncodeValue packs vals into the flat byte value Insert stores, per the
// tree's value_format and spec.md §4.7's "in" mode (pull from args into a
// dependent cursor's buffer).
func (t *Tree) EncodeValue(vals []pack.Value) ([]byte, error) {
	steps, err := t.valuePlan()
	if err != nil {
		return nil, err
	}
	targets := []project.Buffer{{Format: pack.Init(t.cfg.ValueFormat), Data: new(bytes.Buffer)}}
	if err := project.In(steps, &argSlice{values: vals}, targets); err != nil {
		return nil, err
	}
	return targets[0].Data.Bytes(), nil
}

// DecodeValue unpacks raw, as produced by EncodeValue, back into typed
// columns, per spec.md §4.7's "out" mode (push from a dependent cursor's
// buffer to args).
func (t *Tree) DecodeValue(raw []byte) ([]pack.Value, error) {
	steps, err := t.valuePlan()
	if err != nil {
		return nil, err
	}
	targets := []project.Buffer{{Format: pack.Init(t.cfg.ValueFormat), Data: bytes.NewBuffer(append([]byte(nil), raw...))}}
	args := &argSlice{}
	if err := project.Out(steps, args, targets); err != nil {
		return nil, err
	}
	return args.values, nil
}
