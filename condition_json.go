// JSON wire form of conditions, used by the command line tool and by
// callers that store queries in configuration:
//
//	{"op":"eq","field":"name","value":"a"}
//	{"op":"in","field":"tag","values":["x","y"]}
//	{"op":"exists","field":"age","value":false}
//	{"op":"and","conditions":[{...},{...}]}
package jsondb

import (
	"fmt"

	json "github.com/goccy/go-json"
)

type wireCondition struct {
	Op         Op                `json:"op"`
	Field      string            `json:"field,omitempty"`
	Value      json.RawMessage   `json:"value,omitempty"`
	Values     []json.RawMessage `json:"values,omitempty"`
	Conditions []wireCondition   `json:"conditions,omitempty"`
}

// MarshalJSON encodes c in its wire form.
func (c Condition) MarshalJSON() ([]byte, error) {
	w, err := c.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (c Condition) wire() (wireCondition, error) {
	w := wireCondition{Op: c.Op(), Field: c.field}
	switch w.Op {
	case OpAnd, OpOr, OpNot:
		w.Conditions = make([]wireCondition, 0, len(c.children))
		for _, ch := range c.children {
			cw, err := ch.wire()
			if err != nil {
				return wireCondition{}, err
			}
			w.Conditions = append(w.Conditions, cw)
		}
	case OpExists:
		w.Value, _ = json.Marshal(c.exists)
	case OpIsNull:
	case OpIn, OpNin:
		w.Values = make([]json.RawMessage, 0, len(c.values))
		for _, v := range c.values {
			raw, err := json.Marshal(v)
			if err != nil {
				return wireCondition{}, fmt.Errorf("%w: %s: %w", ErrInvalidCondition, c.field, err)
			}
			w.Values = append(w.Values, raw)
		}
	default:
		raw, err := json.Marshal(c.value)
		if err != nil {
			return wireCondition{}, fmt.Errorf("%w: %s: %w", ErrInvalidCondition, c.field, err)
		}
		w.Value = raw
	}
	return w, nil
}

// UnmarshalJSON decodes the wire form. Unknown ops, leaves without a
// field and not nodes without exactly one child fail with
// ErrInvalidCondition.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w wireCondition
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}
	out, err := w.condition()
	if err != nil {
		return err
	}
	*c = out
	return nil
}

// ParseCondition decodes a condition from its JSON wire form.
func ParseCondition(data []byte) (Condition, error) {
	var c Condition
	err := c.UnmarshalJSON(data)
	return c, err
}

func (w wireCondition) condition() (Condition, error) {
	switch w.Op {
	case OpAnd, OpOr, OpNot:
		children := make([]Condition, 0, len(w.Conditions))
		for _, cw := range w.Conditions {
			ch, err := cw.condition()
			if err != nil {
				return Condition{}, err
			}
			children = append(children, ch)
		}
		switch w.Op {
		case OpAnd:
			return And(children...), nil
		case OpOr:
			return Or(children...), nil
		}
		if len(children) != 1 {
			return Condition{}, fmt.Errorf("%w: not takes exactly one condition, got %d", ErrInvalidCondition, len(children))
		}
		return Not(children[0]), nil
	}

	if w.Field == "" {
		return Condition{}, fmt.Errorf("%w: %s without field", ErrInvalidCondition, w.Op)
	}

	switch w.Op {
	case OpExists:
		want := true
		if len(w.Value) > 0 {
			if err := json.Unmarshal(w.Value, &want); err != nil {
				return Condition{}, fmt.Errorf("%w: exists value must be a bool", ErrInvalidCondition)
			}
		}
		return Exists(w.Field, want), nil
	case OpIsNull:
		return IsNull(w.Field), nil
	case OpIn, OpNin:
		values := make([]any, 0, len(w.Values))
		for _, raw := range w.Values {
			v, err := decodeValue(raw)
			if err != nil {
				return Condition{}, fmt.Errorf("%w: %s: %w", ErrInvalidCondition, w.Field, err)
			}
			values = append(values, v)
		}
		return set(w.Op, w.Field, values), nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if len(w.Value) == 0 {
			return Condition{}, fmt.Errorf("%w: %s(%s) without value", ErrInvalidCondition, w.Op, w.Field)
		}
		v, err := decodeValue(w.Value)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: %s: %w", ErrInvalidCondition, w.Field, err)
		}
		return leaf(w.Op, w.Field, v), nil
	}
	return Condition{}, fmt.Errorf("%w: unknown op %q", ErrInvalidCondition, w.Op)
}
