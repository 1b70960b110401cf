package device

import (
	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/params"
)

// Device bundles a mesh and parameter table ready for system.New, plus the
// contact pair used for the terminal current.
type Device struct {
	Name    string
	Mesh    *mesh.Mesh
	Params  *params.Table
	Anode   int // boundary id of the biased contact, current enters here
	Cathode int // grounded contact
}

// ModelParam names a parameter override set, like a SPICE .model card.
type ModelParam struct {
	Type   string
	Name   string
	Params map[string]float64
}

// Builder is implemented by the device presets.
type Builder interface {
	SetModelParameters(params map[string]float64)
	Build() (*Device, error)
}

func New(model ModelParam) (*Device, bool, error) {
	var b Builder
	switch model.Type {
	case "pin":
		b = NewPIN()
	case "perovskite":
		b = NewPerovskite()
	default:
		return nil, false, nil
	}
	b.SetModelParameters(model.Params)
	d, err := b.Build()
	return d, true, err
}

func set(params map[string]float64, key string, dst *float64) {
	if v, ok := params[key]; ok {
		*dst = v
	}
}

func setInt(params map[string]float64, key string, dst *int) {
	if v, ok := params[key]; ok {
		*dst = int(v)
	}
}
