package optimize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

// Parameter values outside [MIN, MAX] are never used as random
// starting points.
const (
	MIN = -10
	MAX = +10
)

// FloatParameter is an optimization parameter bound to a model
// variable.
type FloatParameter interface {
	Name() string
	String() string
	SetMin(float64)
	SetMax(float64)
	GetMin() float64
	GetMax() float64
	// SetOnChange sets a function called after the value changes.
	SetOnChange(func())
	Get() float64
	Set(float64)
	InRange() bool
	ValueInRange(float64) bool
}

// FloatParameterGenerator creates a parameter given a pointer to the
// variable and a name.
type FloatParameterGenerator func(*float64, string) FloatParameter

// FloatParameters is a list of parameters.
type FloatParameters []FloatParameter

// Append adds a parameter.
func (p *FloatParameters) Append(par FloatParameter) {
	*p = append(*p, par)
}

// Names returns parameter names. If is is not nil, it is used to
// store the result.
func (p *FloatParameters) Names(is []string) (s []string) {
	if is == nil {
		s = make([]string, len(*p))
	} else {
		s = is
	}
	for i, par := range *p {
		s[i] = par.Name()
	}
	return
}

// Values returns parameter values. If iv is not nil, it is used to
// store the result.
func (p *FloatParameters) Values(iv []float64) (v []float64) {
	if iv == nil {
		v = make([]float64, len(*p))
	} else {
		v = iv
	}
	for i, par := range *p {
		v[i] = par.Get()
	}
	return
}

// ValuesMap returns parameter values as a map.
func (p *FloatParameters) ValuesMap() map[string]float64 {
	m := make(map[string]float64, len(*p))
	for _, par := range *p {
		m[par.Name()] = par.Get()
	}
	return m
}

// ValuesInRange checks if all the values are within the parameter
// boundaries.
func (p *FloatParameters) ValuesInRange(vals []float64) bool {
	if len(vals) != len(*p) {
		panic("Incorrect number of parameters")
	}
	for i, par := range *p {
		if !par.ValueInRange(vals[i]) {
			return false
		}
	}
	return true
}

// SetValues sets all the parameters.
func (p *FloatParameters) SetValues(v []float64) error {
	if len(v) != len(*p) {
		return fmt.Errorf("incorrect number of parameters: %d, expected %d", len(v), len(*p))
	}
	for i, par := range *p {
		par.Set(v[i])
	}
	return nil
}

// SetValuesMap sets parameters from a map. All the parameters must
// be present.
func (p *FloatParameters) SetValuesMap(m map[string]float64) error {
	for _, par := range *p {
		v, ok := m[par.Name()]
		if !ok {
			return fmt.Errorf("no value for parameter %s", par.Name())
		}
		par.Set(v)
	}
	return nil
}

// ReadFloats converts a whitespace separated string of floats into a
// slice.
func ReadFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	res := make([]float64, 0, len(fields))
	for _, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return res, err
		}
		res = append(res, x)
	}
	return res, nil
}

// ReadLine reads parameters from a trajectory line (iteration,
// likelihood, values).
func (p *FloatParameters) ReadLine(l string) error {
	v, err := ReadFloats(l)
	if err != nil {
		return err
	}
	if len(v) < 2 {
		return fmt.Errorf("trajectory line is too short")
	}
	return p.SetValues(v[2:])
}

// ReadFromJSON reads parameter values from a JSON file.
func (p *FloatParameters) ReadFromJSON(fileName string) error {
	b, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, p)
}

// Update copies values from other parameters.
func (p *FloatParameters) Update(pSrc *FloatParameters) {
	for i := range *p {
		(*p)[i].Set((*pSrc)[i].Get())
	}
}

// Randomize sets parameters to uniformly distributed values within
// the boundaries (cut to [MIN, MAX]).
func (p *FloatParameters) Randomize(rng *rand.Rand) {
	for _, par := range *p {
		min := math.Max(MIN, par.GetMin())
		max := math.Min(MAX, par.GetMax())
		d := max - min
		par.Set(min + rng.Float64()*d)
	}
}

// InRange checks if all the parameters are within boundaries.
func (p *FloatParameters) InRange() bool {
	for _, par := range *p {
		if !par.InRange() {
			return false
		}
	}
	return true
}

// NamesString returns tab separated names.
func (p *FloatParameters) NamesString() (s string) {
	for i, par := range *p {
		if i != 0 {
			s += "\t"
		}
		s += par.Name()
	}
	return
}

// ValuesString returns tab separated values.
func (p *FloatParameters) ValuesString() (s string) {
	for i, par := range *p {
		if i != 0 {
			s += "\t"
		}
		s += par.String()
	}
	return
}

// MarshalJSON encodes parameters as an object preserving the order.
func (p FloatParameters) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, par := range p {
		if i != 0 {
			b.WriteByte(',')
		}
		name, err := json.Marshal(par.Name())
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(par.Get())
		if err != nil {
			return nil, err
		}
		b.Write(name)
		b.WriteByte(':')
		b.Write(value)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON sets parameter values from an object. Parameters
// should be created before.
func (p *FloatParameters) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return p.SetValuesMap(m)
}

// BasicFloatParameter is a parameter with boundaries.
type BasicFloatParameter struct {
	*float64
	name     string
	min      float64
	max      float64
	onChange func()
}

// NewBasicFloatParameter creates an unbounded parameter.
func NewBasicFloatParameter(par *float64, name string) *BasicFloatParameter {
	return &BasicFloatParameter{
		float64: par,
		name:    name,
		min:     math.Inf(-1),
		max:     math.Inf(+1),
	}
}

// BasicFloatParameterGenerator is a FloatParameterGenerator for
// BasicFloatParameter.
func BasicFloatParameterGenerator(par *float64, name string) FloatParameter {
	return NewBasicFloatParameter(par, name)
}

// SetMin sets the lower boundary.
func (p *BasicFloatParameter) SetMin(min float64) {
	p.min = min
}

// SetMax sets the upper boundary.
func (p *BasicFloatParameter) SetMax(max float64) {
	p.max = max
}

// SetOnChange sets a function called after the value changes.
func (p *BasicFloatParameter) SetOnChange(f func()) {
	p.onChange = f
}

// Get returns the value.
func (p *BasicFloatParameter) Get() float64 {
	return *p.float64
}

// Set sets the value.
func (p *BasicFloatParameter) Set(v float64) {
	if *p.float64 == v {
		// do nothing if value has not changed
		return
	}
	*p.float64 = v
	if p.onChange != nil {
		p.onChange()
	}
}

// GetMin returns the lower boundary.
func (p *BasicFloatParameter) GetMin() float64 {
	return p.min
}

// GetMax returns the upper boundary.
func (p *BasicFloatParameter) GetMax() float64 {
	return p.max
}

// ValueInRange checks if v is within the boundaries.
func (p *BasicFloatParameter) ValueInRange(v float64) bool {
	return v >= p.min && v <= p.max
}

// InRange checks if the value is within the boundaries.
func (p *BasicFloatParameter) InRange() bool {
	return p.ValueInRange(*p.float64)
}

// Name returns the name.
func (p *BasicFloatParameter) Name() string {
	return p.name
}

func (p *BasicFloatParameter) String() string {
	return strconv.FormatFloat(*p.float64, 'f', 6, 64)
}
