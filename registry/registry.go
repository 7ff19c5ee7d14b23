// Package registry implements the Format Registry (4.A): the schema table
// a DataFlash log bootstraps from its own FMT records, keyed by numeric
// type id and by name, decorated by UNIT/MULT/FMTU.
package registry

import (
	"math"
	"strings"

	"github.com/ardupilot/dflog/errs"
	"github.com/ardupilot/dflog/format"
)

// Registry stores DFFormat schema records and the UNIT/MULT side tables
// used to decorate them.
//
// Registry is not safe for concurrent use: it is owned by a single reader
// per the single-threaded, cooperative concurrency model (§5).
type Registry struct {
	byID   [256]*format.DFFormat
	byName map[string]*format.DFFormat

	// unitLookup maps a UNIT record's single-char id to its label.
	unitLookup map[byte]string
	// multLookup maps a MULT record's single-char id to its float value,
	// rounded to 7 significant decimal digits for table-lookup parity.
	multLookup map[byte]float64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byName:     make(map[string]*format.DFFormat),
		unitLookup: make(map[byte]string),
		multLookup: make(map[byte]float64),
	}
}

// Get returns the format registered for type id, or ErrUnknownType.
func (r *Registry) Get(id uint8) (*format.DFFormat, error) {
	f := r.byID[id]
	if f == nil {
		return nil, errs.ErrUnknownType
	}

	return f, nil
}

// GetByName returns the format registered under name, or ErrUnknownName.
func (r *Registry) GetByName(name string) (*format.DFFormat, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, errs.ErrUnknownName
	}

	return f, nil
}

// Insert registers f, keyed by its type id and name. If a format with the
// same id and the same name was previously registered, units, multiplier
// overrides, and the instance field are carried forward onto f, so a FMT
// redefined mid-log keeps its earlier FMTU decoration. A redefinition of
// the id under a different name starts with no decoration.
func (r *Registry) Insert(f *format.DFFormat) {
	if prev := r.byID[f.TypeID]; prev != nil && prev.Name == f.Name {
		f.Units = prev.Units
		f.Mults = prev.Mults
		if prev.InstanceField != "" {
			f.SetInstanceField(prev.InstanceField)
		}
	}

	r.byID[f.TypeID] = f
	r.byName[f.Name] = f
}

// SetUnits applies a FMTU unit-id string to the format registered for id.
// Per column i, if unitIDs contains '#' at position i, that column becomes
// the instance field. Otherwise, for a column with no built-in scalar
// multiplier and a non-empty resolved unit, the corresponding SI prefix (or
// "<g> " when none is found) is prepended to the unit label.
func (r *Registry) SetUnits(id uint8, unitIDs string) error {
	f, err := r.Get(id)
	if err != nil {
		return err
	}

	for i := 0; i < len(f.Columns) && i < len(unitIDs); i++ {
		ch := unitIDs[i]
		if ch == '#' {
			f.SetInstanceField(f.Columns[i])
			continue
		}

		label, ok := r.unitLookup[ch]
		if !ok || label == "" {
			continue
		}

		fc := format.Table[f.FormatSpec[i]]
		if fc.Multiplier != 0 {
			f.Units[i] = label
			continue
		}

		mult, hasMult := r.multForColumn(f, i)
		if hasMult {
			if prefix, ok := format.SIPrefix(mult); ok {
				f.Units[i] = prefix + label
				continue
			}
		}

		f.Units[i] = "<g> " + label
	}

	return nil
}

// SetMultipliers applies a FMTU mult-id string to the format registered
// for id, resolving each column's mult-id through the mult lookup table.
func (r *Registry) SetMultipliers(id uint8, multIDs string) error {
	f, err := r.Get(id)
	if err != nil {
		return err
	}

	for i := 0; i < len(f.Columns) && i < len(multIDs); i++ {
		if m, ok := r.multLookup[multIDs[i]]; ok {
			f.Mults[i] = m
		}
	}

	return nil
}

func (r *Registry) multForColumn(f *format.DFFormat, col int) (float64, bool) {
	if f.Mults[col] != 0 {
		return f.Mults[col], true
	}

	return 0, false
}

// DefineUnit registers a UNIT record: a single-char id bound to a label.
func (r *Registry) DefineUnit(id byte, label string) {
	r.unitLookup[id] = label
}

// DefineMult registers a MULT record: a single-char id bound to a scalar
// multiplier, rounded to 7 significant decimal digits to ensure
// table-lookup parity with the canonical SI-prefix mapping.
func (r *Registry) DefineMult(id byte, value float64) {
	r.multLookup[id] = roundSig(value, 7)
}

// roundSig rounds v to n significant decimal digits.
func roundSig(v float64, n int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}

	mag := math.Ceil(math.Log10(math.Abs(v)))
	power := float64(n) - mag
	factor := math.Pow(10, power)

	return math.Round(v*factor) / factor
}

// Names returns every registered format name, for diagnostics/testing.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}

	return names
}

// IsBootstrap reports whether name is the well-known bootstrap FMT name.
func IsBootstrap(name string) bool {
	return strings.EqualFold(name, format.BootstrapName)
}
