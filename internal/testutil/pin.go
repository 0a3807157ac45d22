package testutil

import "sync"

// Pin is a scriptable button pin. Tests flip it with Press and Release
// while the input watcher polls Pressed.
type Pin struct {
	mu      sync.Mutex
	pressed bool
}

// NewPin creates a released pin.
func NewPin() *Pin {
	return &Pin{}
}

// Press holds the button down.
func (p *Pin) Press() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = true
}

// Release lets the button up.
func (p *Pin) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = false
}

// Pressed implements the input pin boundary.
func (p *Pin) Pressed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pressed
}
