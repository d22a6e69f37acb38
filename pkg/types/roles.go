package types

// Role is the category assigned to a connection at identification time.
// Routing policy never compares device names directly; it asks for
// connections by role.
type Role string

const (
	RoleControl      Role = "control"
	RoleDisplay      Role = "display"
	RoleViewer       Role = "viewer"
	RoleUnidentified Role = "unidentified"
)

// RoleMap resolves a declared identity to a Role. Entries match either
// the device name or the logical endpoint id. Identified connections
// that match no entry become viewers.
type RoleMap struct {
	Control []string
	Display []string
}

// DefaultRoleMap mirrors the identities the shipped clients declare.
func DefaultRoleMap() RoleMap {
	return RoleMap{
		Control: []string{"Desktop App", "Desktop", "XR-1238"},
		Display: []string{"XR Display"},
	}
}

// Resolve returns the role for an identified connection.
func (m RoleMap) Resolve(deviceName, xrID string) Role {
	if matches(m.Control, deviceName, xrID) {
		return RoleControl
	}
	if matches(m.Display, deviceName, xrID) {
		return RoleDisplay
	}
	return RoleViewer
}

func matches(entries []string, deviceName, xrID string) bool {
	for _, e := range entries {
		if e == "" {
			continue
		}
		if e == deviceName || (xrID != "" && e == xrID) {
			return true
		}
	}
	return false
}
