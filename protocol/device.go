package protocol

// Device holds the link settings of one radio: the shared base address, the
// group carried in the address prefix, and the RF band and power level.
// These survive Disable so a later Enable restores the same link.
type Device struct {
	Address uint32
	Group   uint8
	Band    uint8
	Power   uint8
}

func NewDevice() Device {
	return Device{
		Address: BaseAddress,
		Group:   DefaultGroup,
		Band:    DefaultBand,
		Power:   DefaultPower,
	}
}

// Prefix is the address prefix byte the peripheral matches on.
func (d Device) Prefix() byte { return d.Group }

func (d Device) FrequencyMHz() int { return BaseFrequency + int(d.Band) }

func ValidBand(band int) bool { return band >= 0 && band <= MaxBand }

func ValidPower(level int) bool { return level >= 0 && level < PowerLevels }
