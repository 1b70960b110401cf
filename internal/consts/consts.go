package consts

const (
	CHARGE    = 1.602176634e-19  // Elementary charge (C)
	BOLTZMANN = 1.380649e-23     // Boltzmann constant (J/K)
	EPSILON0  = 8.8541878128e-12 // Vacuum permittivity (F/m)
	ROOMTEMP  = 300.0            // Default lattice temperature (K)
)

// ThermalVoltage returns kT/q in volts. Non-positive temperatures fall back to ROOMTEMP.
func ThermalVoltage(temp float64) float64 {
	if temp <= 0 {
		temp = ROOMTEMP
	}
	return BOLTZMANN * temp / CHARGE
}
