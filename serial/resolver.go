package serial

import (
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes an attached serial interface.
type PortInfo struct {
	Path         string `json:"path"`
	SerialNumber string `json:"serial_number,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	Product      string `json:"product,omitempty"`
}

// EnumerateFunc lists the serial interfaces attached right now.
type EnumerateFunc func() ([]*enumerator.PortDetails, error)

// Resolver maps USB serial numbers to OS device paths. Every call
// enumerates the system again: paths are reassigned on replug, so nothing
// is cached.
type Resolver struct {
	enumerate EnumerateFunc
}

func NewResolver() *Resolver {
	return &Resolver{enumerate: enumerator.GetDetailedPortsList}
}

// NewResolverWith uses fn instead of the platform enumerator.
func NewResolverWith(fn EnumerateFunc) *Resolver {
	return &Resolver{enumerate: fn}
}

// Ports returns the attached interfaces sorted by path.
func (r *Resolver) Ports() ([]PortInfo, error) {
	details, err := r.enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		ports = append(ports, PortInfo{
			Path:         d.Name,
			SerialNumber: d.SerialNumber,
			IsUSB:        d.IsUSB,
			VendorID:     d.VID,
			ProductID:    d.PID,
			Product:      d.Product,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Path < ports[j].Path })
	return ports, nil
}

// Resolve returns the path of the port whose serial number is identity.
// Interfaces without a serial number never match.
func (r *Resolver) Resolve(identity string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: empty identity", ErrNotFound)
	}

	ports, err := r.Ports()
	if err != nil {
		return "", err
	}

	for _, p := range ports {
		if p.SerialNumber == "" {
			continue
		}
		if p.SerialNumber == identity {
			return p.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, identity)
}
