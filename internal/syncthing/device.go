package syncthing

import (
	"sync"
	"time"
)

// Device is a point-in-time copy of a configured remote device.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	Address   string    `json:"address,omitempty"`
	LastEvent time.Time `json:"lastEvent,omitempty"`
}

type device struct {
	id   string
	name string

	mu        sync.Mutex
	connected bool
	address   string
	lastEvent time.Time
}

func newDevice(id, name string) *device {
	return &device{id: id, name: name}
}

func (d *device) snapshot() Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Device{
		ID:        d.id,
		Name:      d.name,
		Connected: d.connected,
		Address:   d.address,
		LastEvent: d.lastEvent,
	}
}

func (d *device) setConnected(address string, at time.Time) {
	d.mu.Lock()
	d.connected = true
	d.address = address
	d.lastEvent = at
	d.mu.Unlock()
}

func (d *device) setDisconnected(at time.Time) {
	d.mu.Lock()
	d.connected = false
	d.address = ""
	d.lastEvent = at
	d.mu.Unlock()
}
