// Package deck reads YAML device decks: either a device preset with
// parameter overrides or an explicit list of species, regions and
// boundaries, plus solver settings and the protocol to run.
package deck

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edp1096/toy-drift/pkg/simerr"
)

var unitMap = map[string]float64{
	"T":   1e12,  // tera
	"G":   1e9,   // giga
	"meg": 1e6,   // mega
	"K":   1e3,   // kilo
	"k":   1e3,   // kilo
	"M":   1e-3,  // milli, as in SPICE
	"m":   1e-3,  // milli
	"u":   1e-6,  // micro
	"n":   1e-9,  // nano
	"p":   1e-12, // pico
	"f":   1e-15, // femto
}

var valueRe = regexp.MustCompile(`^([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)((?i:meg)|[TGMKkmunpf])?s?$`)

// ParseValue reads a number with an optional SPICE scale suffix, so "400n"
// is 4e-7.
func ParseValue(val string) (float64, error) {
	matches := valueRe.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %s", val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}
	suffix := matches[2]
	if strings.EqualFold(suffix, "meg") {
		suffix = "meg"
	}
	if suffix != "" {
		m, ok := unitMap[suffix]
		if !ok {
			return 0, fmt.Errorf("unknown scale suffix %q in %s", suffix, val)
		}
		num *= m
	}
	return num, nil
}

// Quantity is a float deck field accepting scale suffixes.
type Quantity float64

func (q *Quantity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	v, err := ParseValue(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*q = Quantity(v)
	return nil
}

func (q Quantity) Float() float64 { return float64(q) }

type Deck struct {
	Title       string   `yaml:"title"`
	Preset      *Preset  `yaml:"preset"`
	Temperature Quantity `yaml:"temperature" validate:"gte=0"`
	Flux        string   `yaml:"flux"`
	Backend     string   `yaml:"backend" validate:"omitempty,oneof=sparse dense"`

	Species    []Species  `yaml:"species" validate:"dive"`
	Regions    []Region   `yaml:"regions" validate:"dive"`
	Boundaries []Boundary `yaml:"boundaries" validate:"dive"`

	Solver   Solver   `yaml:"solver"`
	Analysis Analysis `yaml:"analysis"`
}

// Preset selects a built-in device and overrides its model parameters.
type Preset struct {
	Type   string              `yaml:"type" validate:"required,oneof=pin perovskite"`
	Params map[string]Quantity `yaml:"params"`
}

type Species struct {
	Name          string `yaml:"name" validate:"required"`
	Role          string `yaml:"role" validate:"required,oneof=electron hole ion"`
	Charge        int    `yaml:"charge" validate:"oneof=-1 1"`
	Statistics    string `yaml:"statistics"`
	Discontinuous bool   `yaml:"discontinuous"`
}

type Carrier struct {
	DOS      Quantity `yaml:"dos" validate:"gt=0"`
	Edge     Quantity `yaml:"edge"`
	Mobility Quantity `yaml:"mobility" validate:"gt=0"`
	Doping   Quantity `yaml:"doping" validate:"gte=0"`
}

type Recombination struct {
	Radiative Quantity  `yaml:"radiative" validate:"gte=0"`
	TauN      Quantity  `yaml:"tau_n" validate:"gte=0"`
	TauP      Quantity  `yaml:"tau_p" validate:"gte=0"`
	TrapLevel *Quantity `yaml:"trap_level"`
	TrapN     Quantity  `yaml:"trap_n" validate:"gte=0"`
	TrapP     Quantity  `yaml:"trap_p" validate:"gte=0"`
	AugerN    Quantity  `yaml:"auger_n" validate:"gte=0"`
	AugerP    Quantity  `yaml:"auger_p" validate:"gte=0"`
}

type Region struct {
	ID            int                `yaml:"id" validate:"gte=1"`
	Start         Quantity           `yaml:"start"`
	End           Quantity           `yaml:"end" validate:"gtfield=Start"`
	Elements      int                `yaml:"elements" validate:"gte=1"`
	Dielectric    Quantity           `yaml:"dielectric" validate:"gt=0"`
	Carriers      map[string]Carrier `yaml:"carriers" validate:"dive"`
	Recombination *Recombination     `yaml:"recombination"`
	Generation    Quantity           `yaml:"generation"`
}

// SurfaceCarrier overrides the density of states and band edge used for
// surface densities at a boundary.
type SurfaceCarrier struct {
	DOS  Quantity `yaml:"dos" validate:"gte=0"`
	Edge Quantity `yaml:"edge"`
}

type Interface struct {
	Name       string   `yaml:"name" validate:"required"`
	Bulk       string   `yaml:"bulk" validate:"required"`
	Charge     int      `yaml:"charge" validate:"oneof=-1 1"`
	Statistics string   `yaml:"statistics"`
	DOS        Quantity `yaml:"dos" validate:"gt=0"`
	Edge       Quantity `yaml:"edge"`
	Doping     Quantity `yaml:"doping" validate:"gte=0"`
	Rate       Quantity `yaml:"rate" validate:"gt=0"`
}

type Boundary struct {
	ID       int                       `yaml:"id" validate:"gte=1"`
	At       Quantity                  `yaml:"at"`
	Kind     string                    `yaml:"kind" validate:"required,oneof=insulating ohmic surface-contact interface-recombination ionic-interface"`
	Voltage  Quantity                  `yaml:"voltage"`
	Carriers map[string]SurfaceCarrier `yaml:"carriers" validate:"dive"`
	Velocity map[string]Quantity       `yaml:"velocity"`
	Transfer map[string]Quantity       `yaml:"transfer"`
	TrapN    Quantity                  `yaml:"trap_n" validate:"gte=0"`
	TrapP    Quantity                  `yaml:"trap_p" validate:"gte=0"`

	Interface *Interface `yaml:"interface"`
}

// Newton overrides individual Newton settings; unset fields keep their
// defaults.
type Newton struct {
	MaxIterations *int      `yaml:"max_iterations"`
	TolAbsolute   *Quantity `yaml:"tol_absolute"`
	TolRelative   *Quantity `yaml:"tol_relative"`
	TolRound      *Quantity `yaml:"tol_round"`
	MaxRound      *int      `yaml:"max_round"`
	DampInitial   *Quantity `yaml:"damp_initial"`
	DampGrowth    *Quantity `yaml:"damp_growth"`
	DampMin       *Quantity `yaml:"damp_min"`
	Gmin          *Quantity `yaml:"gmin"`
}

type Solver struct {
	Newton       Newton    `yaml:"newton"`
	Decades      int       `yaml:"decades" validate:"gte=0,lte=20"` // continuation schedule, 0 = 10
	Backoff      int       `yaml:"backoff" validate:"gte=0,lte=30"`
	Illumination *Quantity `yaml:"illumination"`
}

// Analysis is the protocol to run. Contact and Ground default to the
// device's anode and cathode.
type Analysis struct {
	Type    string `yaml:"type" validate:"required,oneof=op ramp scan hysteresis"`
	Contact int    `yaml:"contact"`
	Ground  int    `yaml:"ground"`

	// ramp and scan
	Start  Quantity `yaml:"start"`
	Stop   Quantity `yaml:"stop"`
	Points int      `yaml:"points"`

	// hysteresis
	Low  Quantity `yaml:"low"`
	High Quantity `yaml:"high"`

	// scan and hysteresis
	Rate  Quantity `yaml:"rate" validate:"gte=0"`
	Steps int      `yaml:"steps" validate:"gte=0"`
	Order int      `yaml:"order" validate:"gte=0,lte=2"`
}

var validate = validator.New()

// Parse decodes and validates a deck. Unknown keys are rejected.
func Parse(r io.Reader) (*Deck, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var d Deck
	if err := dec.Decode(&d); err != nil {
		if err == io.EOF {
			return nil, simerr.Configf("deck", "empty deck")
		}
		return nil, simerr.Configf("deck", "%v", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func Load(path string) (*Deck, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Validate runs the struct tags and the cross-field checks the tags cannot
// express.
func (d *Deck) Validate() error {
	if err := validate.Struct(d); err != nil {
		return simerr.Configf("deck", "%s", validationMessage(err))
	}

	if d.Preset != nil {
		if len(d.Species) > 0 || len(d.Regions) > 0 || len(d.Boundaries) > 0 {
			return simerr.Configf("deck", "a preset deck cannot also list species, regions or boundaries")
		}
	} else if len(d.Species) == 0 || len(d.Regions) == 0 {
		return simerr.Configf("deck", "either a preset or species and regions are required")
	}

	switch d.Analysis.Type {
	case "ramp":
		if d.Analysis.Points < 1 {
			return simerr.Configf("deck", "ramp needs at least one point")
		}
	case "scan", "hysteresis":
		if d.Analysis.Rate <= 0 || d.Analysis.Steps < 1 {
			return simerr.Configf("deck", "%s needs a positive rate and at least one step", d.Analysis.Type)
		}
	}
	if d.Analysis.Type == "hysteresis" && d.Analysis.High <= d.Analysis.Low {
		return simerr.Configf("deck", "hysteresis range [%g, %g] is empty", d.Analysis.Low, d.Analysis.High)
	}
	return nil
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", e.Namespace(), e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
