package domain

// DeviceRole differentiates the handheld that requests credentials from the
// checkpoint scanner that redeems them.
type DeviceRole string

const (
	RoleEmployee DeviceRole = "employee"
	RoleScanner  DeviceRole = "scanner"
)

// Valid reports whether r is a known role.
func (r DeviceRole) Valid() bool {
	return r == RoleEmployee || r == RoleScanner
}
