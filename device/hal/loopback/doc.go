// Package loopback provides an in-memory [hal.Peripheral] together with a
// simulated USB host.
//
// The [Peripheral] records every call the router makes (endpoint opens,
// transmissions, receptions armed, control stalls) so tests can assert
// on the exact sequence. The [Host] drives the other side: it issues
// control transfers, writes OUT packets and reads IN packets, raising the
// matching completion events on an [EventSink] such as the composite
// dispatcher.
//
//	p := loopback.New()
//	d := composite.NewDispatcher(dev, table, reg, p)
//	host := loopback.NewHost(p, d)
//
//	host.Write(0x01, []byte("hello"))   // raises DataOut(1)
//	pkts, _ := host.ReadAll(0x81)      // raises DataIn(1) per packet
package loopback
