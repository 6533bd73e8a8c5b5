package bus

import "fmt"

// AnyID matches every value in a Match field.
const AnyID uint16 = 0xffff

const (
	VendorAltera uint16 = 0x1172
	VendorMEN    uint16 = 0x1a88
)

// DeviceID is the vendor/device pair plus subsystem ids from config space.
type DeviceID struct {
	Vendor    uint16
	Device    uint16
	SubVendor uint16
	SubDevice uint16
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%04x:%04x (%04x:%04x)", d.Vendor, d.Device, d.SubVendor, d.SubDevice)
}

// Match is one entry of a PCI id table.
type Match struct {
	DeviceID
	Description string
}

// Matches reports whether id satisfies m, honoring AnyID wildcards.
func (m Match) Matches(id DeviceID) bool {
	return field(m.Vendor, id.Vendor) &&
		field(m.Device, id.Device) &&
		field(m.SubVendor, id.SubVendor) &&
		field(m.SubDevice, id.SubDevice)
}

func field(want, got uint16) bool {
	return want == AnyID || want == got
}

// ChameleonIDs lists the functions known to carry a chameleon table.
var ChameleonIDs = []Match{
	{DeviceID{VendorAltera, 0x5104, AnyID, AnyID}, "EM04"},
	{DeviceID{VendorAltera, 0x454d, AnyID, 0x0441}, "EM04A MEN PCI core"},
	{DeviceID{VendorAltera, 0x0008, AnyID, AnyID}, "EM07"},
	{DeviceID{VendorAltera, 0x000a, AnyID, AnyID}, "F401"},
	{DeviceID{VendorAltera, 0x000b, AnyID, AnyID}, "F206"},
	{DeviceID{VendorAltera, 0x0013, AnyID, AnyID}, "F206i"},
	{DeviceID{VendorAltera, 0x0009, AnyID, AnyID}, "F206 Trainguard"},
	{DeviceID{VendorAltera, 0x4d45, AnyID, AnyID}, "Chameleon general ID"},
	{DeviceID{VendorMEN, AnyID, AnyID, AnyID}, "MEN chameleon"},
}

// Lookup returns the first id table entry matching id.
func Lookup(id DeviceID) (Match, bool) {
	for _, m := range ChameleonIDs {
		if m.Matches(id) {
			return m, true
		}
	}
	return Match{}, false
}

// IsChameleon reports whether id is handled as a chameleon controller.
func IsChameleon(id DeviceID) bool {
	_, ok := Lookup(id)
	return ok
}
