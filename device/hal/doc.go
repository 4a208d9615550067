// Package hal defines the peripheral interface consumed by the composite
// function router.
//
// The peripheral owns packet framing, FIFO access, DMA and clocking. The
// router only opens and closes endpoints, queues transmissions, arms
// receptions and answers the control endpoint; every completion comes
// back as an event on the router's dispatch entry points.
//
// # Implementing a Peripheral
//
//	type myPeripheral struct{ /* controller registers */ }
//
//	func (p *myPeripheral) OpenEndpoint(addr, typ uint8, mps uint16) error { ... }
//	func (p *myPeripheral) Transmit(addr uint8, data []byte) error      { ... }
//	// ...
//
// An in-memory implementation with a simulated host lives in
// [github.com/ardnew/compusb/device/hal/loopback].
package hal
