package silo

import "time"

// Kind is the physical construction of a silo.
type Kind string

// Silo kinds.
const (
	KindSurface  Kind = "superficie"
	KindTrench   Kind = "trincheira"
	KindCylinder Kind = "cilindrico"
	KindBag      Kind = "silo-bolsa"
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{KindSurface, KindTrench, KindCylinder, KindBag}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSurface, KindTrench, KindCylinder, KindBag:
		return true
	}
	return false
}

// Silo is a monitored storage silo and, once integrated, the BLE sensor
// bound to it.
//
// Integrated is true exactly when MACAddress and Identifier are both set.
// Silos are created not integrated; only provisioning changes the three
// integration fields.
type Silo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// MACAddress is uppercase and colon separated, e.g. "AA:BB:CC:DD:EE:FF".
	MACAddress string `json:"mac_address,omitempty"`

	// Identifier tags the sensor's readings ("dispositivo" on the wire).
	Identifier string `json:"device_identifier,omitempty"`

	Integrated bool      `json:"integrated"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Integrate binds a device to the silo.
func (s *Silo) Integrate(mac, identifier string) {
	s.MACAddress = mac
	s.Identifier = identifier
	s.Integrated = true
}

// Release unbinds the device.
func (s *Silo) Release() {
	s.MACAddress = ""
	s.Identifier = ""
	s.Integrated = false
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Kind       Kind
	Integrated *bool
}

// Counts summarises the silo table.
type Counts struct {
	Total         int `json:"total"`
	Integrated    int `json:"integrated"`
	NotIntegrated int `json:"not_integrated"`
}
