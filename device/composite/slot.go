package composite

import (
	"fmt"
	"strings"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/class/cdc"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// HandlerKind selects which handler serves a function slot.
type HandlerKind uint8

// Handler kinds.
const (
	KindCDC     HandlerKind = iota // served by the CDC instance handler
	KindForeign                    // served by a registered ForeignDriver
)

// String returns the handler kind name.
func (k HandlerKind) String() string {
	switch k {
	case KindCDC:
		return "cdc"
	case KindForeign:
		return "foreign"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseHandlerKind converts a configuration name into a HandlerKind.
func ParseHandlerKind(name string) (HandlerKind, bool) {
	switch strings.ToLower(name) {
	case "cdc", "acm":
		return KindCDC, true
	case "foreign", "msc":
		return KindForeign, true
	default:
		return 0, false
	}
}

// InterfaceRange is a contiguous block of interface numbers.
type InterfaceRange struct {
	First uint8
	Count uint8
}

// Contains reports whether n lies in the range.
func (r InterfaceRange) Contains(n uint8) bool {
	return n >= r.First && int(n) < int(r.First)+int(r.Count)
}

// String formats the range as "first-last".
func (r InterfaceRange) String() string {
	if r.Count == 1 {
		return fmt.Sprintf("%d", r.First)
	}
	return fmt.Sprintf("%d-%d", r.First, int(r.First)+int(r.Count)-1)
}

// FunctionSlot is one logical function of the composite device.
type FunctionSlot struct {
	ID         uint8
	Name       string
	Interfaces InterfaceRange
	Endpoints  []device.OwnedEndpoint
	Kind       HandlerKind
}

// Endpoint returns the first owned endpoint of the given kind.
func (s *FunctionSlot) Endpoint(kind device.EndpointKind) (device.OwnedEndpoint, bool) {
	for _, ep := range s.Endpoints {
		if ep.Kind == kind {
			return ep, true
		}
	}
	return device.OwnedEndpoint{}, false
}

// CDCEndpoints returns the endpoint set a CDC instance uses for this slot.
func (s *FunctionSlot) CDCEndpoints() cdc.Endpoints {
	eps := cdc.Endpoints{Interface: s.Interfaces.First}
	if ep, ok := s.Endpoint(device.KindControlInterrupt); ok {
		eps.Notify = ep.Address
	}
	if ep, ok := s.Endpoint(device.KindBulkIn); ok {
		eps.In = ep.Address
	}
	if ep, ok := s.Endpoint(device.KindBulkOut); ok {
		eps.Out = ep.Address
	}
	return eps
}

// String returns a short description of the slot.
func (s *FunctionSlot) String() string {
	return fmt.Sprintf("slot %d (%s, %s) if=%s", s.ID, s.Name, s.Kind, s.Interfaces)
}

// none marks an empty lookup entry.
const none = -1

// SlotTable is the immutable set of function slots of one configuration,
// indexed for constant-time lookup by interface number, endpoint number
// and endpoint address.
type SlotTable struct {
	slots []FunctionSlot

	byID        [256]int16
	byInterface [device.MaxInterfaces]int16
	byNumber    [device.MaxEndpointNumber + 1]int16
	byAddress   [device.MaxEndpointAddresses]int16

	defaultSlot int
}

// Option configures a SlotTable.
type Option func(*tableOptions)

type tableOptions struct {
	defaultID  uint8
	hasDefault bool
}

// WithDefaultSlot selects the slot that receives device-recipient
// requests. By default the last slot does.
func WithDefaultSlot(id uint8) Option {
	return func(o *tableOptions) {
		o.defaultID = id
		o.hasDefault = true
	}
}

// NewSlotTable validates slots and builds the lookup tables.
//
// Interface ranges must not overlap, no endpoint address or endpoint
// number may be claimed by two slots, and endpoint 0 cannot be owned.
// A CDC slot must own exactly one endpoint of each kind.
func NewSlotTable(slots []FunctionSlot, opts ...Option) (*SlotTable, error) {
	var o tableOptions
	for _, opt := range opts {
		opt(&o)
	}

	if len(slots) == 0 {
		return nil, errors.Wrap(pkg.ErrInvalidParameter, "no function slots")
	}

	t := &SlotTable{slots: make([]FunctionSlot, len(slots)), defaultSlot: none}
	fill(t.byID[:])
	fill(t.byInterface[:])
	fill(t.byNumber[:])
	fill(t.byAddress[:])

	for i := range slots {
		s := slots[i]
		s.Endpoints = append([]device.OwnedEndpoint(nil), s.Endpoints...)
		t.slots[i] = s

		if err := t.add(i); err != nil {
			return nil, err
		}
	}

	if o.hasDefault {
		idx := t.byID[o.defaultID]
		if idx == none {
			return nil, errors.Wrapf(pkg.ErrInvalidParameter, "default slot %d does not exist", o.defaultID)
		}
		t.defaultSlot = int(idx)
	} else {
		t.defaultSlot = len(t.slots) - 1
	}

	pkg.LogDebug(pkg.ComponentRouter, "slot table built",
		"slots", len(t.slots),
		"default", t.slots[t.defaultSlot].ID)
	return t, nil
}

func fill(a []int16) {
	for i := range a {
		a[i] = none
	}
}

// add validates slot i and indexes it.
func (t *SlotTable) add(i int) error {
	s := &t.slots[i]

	if t.byID[s.ID] != none {
		return errors.Wrapf(pkg.ErrInvalidParameter, "duplicate slot id %d", s.ID)
	}
	t.byID[s.ID] = int16(i)

	if s.Interfaces.Count == 0 {
		return errors.Wrapf(pkg.ErrInvalidParameter, "%s: empty interface range", s)
	}
	if int(s.Interfaces.First)+int(s.Interfaces.Count) > device.MaxInterfaces {
		return errors.Wrapf(pkg.ErrInvalidParameter, "%s: interface range overflows", s)
	}
	for n := int(s.Interfaces.First); n < int(s.Interfaces.First)+int(s.Interfaces.Count); n++ {
		if owner := t.byInterface[n]; owner != none {
			return errors.Wrapf(pkg.ErrInterfaceConflict, "interface %d claimed by slots %d and %d",
				n, t.slots[owner].ID, s.ID)
		}
		t.byInterface[n] = int16(i)
	}

	var kinds [3]int
	for _, ep := range s.Endpoints {
		if ep.Address&0x70 != 0 || ep.Number() == 0 {
			return errors.Wrapf(pkg.ErrInvalidParameter, "%s: invalid endpoint address 0x%02X", s, ep.Address)
		}
		if int(ep.Kind) >= len(kinds) {
			return errors.Wrapf(pkg.ErrInvalidParameter, "%s: endpoint %s", s, ep)
		}
		if ep.Address&device.EndpointDirectionIn != ep.Kind.Direction() {
			return errors.Wrapf(pkg.ErrInvalidParameter, "%s: endpoint %s has wrong direction", s, ep)
		}
		kinds[ep.Kind]++

		if owner := t.byAddress[device.EndpointIndex(ep.Address)]; owner != none {
			return errors.Wrapf(pkg.ErrEndpointConflict, "endpoint 0x%02X claimed by slots %d and %d",
				ep.Address, t.slots[owner].ID, s.ID)
		}
		if owner := t.byNumber[ep.Number()]; owner != none && int(owner) != i {
			return errors.Wrapf(pkg.ErrEndpointConflict, "endpoint number %d shared by slots %d and %d",
				ep.Number(), t.slots[owner].ID, s.ID)
		}
		t.byAddress[device.EndpointIndex(ep.Address)] = int16(i)
		t.byNumber[ep.Number()] = int16(i)
	}

	if s.Kind == KindCDC {
		for k, n := range kinds {
			if n != 1 {
				return errors.Wrapf(pkg.ErrInvalidParameter, "%s: needs one %s endpoint, has %d",
					s, device.EndpointKind(k), n)
			}
		}
	}
	return nil
}

// Len returns the number of slots.
func (t *SlotTable) Len() int {
	return len(t.slots)
}

// At returns the slot at position i in registration order.
func (t *SlotTable) At(i int) *FunctionSlot {
	return &t.slots[i]
}

// Slots returns a copy of the slots in registration order.
func (t *SlotTable) Slots() []FunctionSlot {
	out := make([]FunctionSlot, len(t.slots))
	copy(out, t.slots)
	return out
}

// Slot returns the slot with the given id.
func (t *SlotTable) Slot(id uint8) (*FunctionSlot, bool) {
	return t.lookup(t.byID[id])
}

// ByInterface returns the slot whose interface range contains n.
func (t *SlotTable) ByInterface(n uint8) (*FunctionSlot, bool) {
	return t.lookup(t.byInterface[n])
}

// ByEndpointNumber returns the slot owning endpoint number n in either
// direction.
func (t *SlotTable) ByEndpointNumber(n uint8) (*FunctionSlot, bool) {
	return t.lookup(t.byNumber[n&0x0F])
}

// ByAddress returns the slot owning an endpoint address.
func (t *SlotTable) ByAddress(address uint8) (*FunctionSlot, bool) {
	return t.lookup(t.byAddress[device.EndpointIndex(address)])
}

// Default returns the slot serving device-recipient requests.
func (t *SlotTable) Default() (*FunctionSlot, bool) {
	return t.lookup(int16(t.defaultSlot))
}

func (t *SlotTable) lookup(idx int16) (*FunctionSlot, bool) {
	if idx == none {
		return nil, false
	}
	return &t.slots[idx], true
}

// TableBuilder assembles a slot table, assigning slot ids and interface
// numbers in the order functions are added.
type TableBuilder struct {
	slots     []FunctionSlot
	nextIface int
}

// NewTableBuilder creates an empty builder.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{}
}

// AddCDC adds a CDC-ACM function using two interfaces (communication and
// data) and the given notification, bulk IN and bulk OUT addresses.
func (b *TableBuilder) AddCDC(name string, notify, in, out uint8) *TableBuilder {
	return b.add(name, KindCDC, 2,
		device.OwnedEndpoint{Address: notify, Kind: device.KindControlInterrupt},
		device.OwnedEndpoint{Address: in, Kind: device.KindBulkIn},
		device.OwnedEndpoint{Address: out, Kind: device.KindBulkOut},
	)
}

// AddForeign adds a function served by a ForeignDriver.
func (b *TableBuilder) AddForeign(name string, interfaces uint8, endpoints ...device.OwnedEndpoint) *TableBuilder {
	return b.add(name, KindForeign, interfaces, endpoints...)
}

func (b *TableBuilder) add(name string, kind HandlerKind, interfaces uint8, endpoints ...device.OwnedEndpoint) *TableBuilder {
	b.slots = append(b.slots, FunctionSlot{
		ID:         uint8(len(b.slots)),
		Name:       name,
		Interfaces: InterfaceRange{First: uint8(b.nextIface), Count: interfaces},
		Endpoints:  endpoints,
		Kind:       kind,
	})
	b.nextIface += int(interfaces)
	return b
}

// Build validates the slots and returns the table.
func (b *TableBuilder) Build(opts ...Option) (*SlotTable, error) {
	if b.nextIface > device.MaxInterfaces {
		return nil, errors.Wrapf(pkg.ErrInvalidParameter, "%d interfaces", b.nextIface)
	}
	return NewSlotTable(b.slots, opts...)
}

// DualCDC returns the two-serial-port layout: CDC 0 on interfaces 0-1
// with endpoints 0x82/0x81/0x01, CDC 1 on interfaces 2-3 with endpoints
// 0x84/0x83/0x03.
func DualCDC(opts ...Option) (*SlotTable, error) {
	return NewTableBuilder().
		AddCDC("cdc0", 0x82, 0x81, 0x01).
		AddCDC("cdc1", 0x84, 0x83, 0x03).
		Build(opts...)
}

// MSCCDC returns the mass storage plus serial port layout: MSC on
// interface 0 with endpoints 0x81/0x01, CDC on interfaces 1-2 with
// endpoints 0x83/0x82/0x02.
func MSCCDC(opts ...Option) (*SlotTable, error) {
	return NewTableBuilder().
		AddForeign("msc", 1,
			device.OwnedEndpoint{Address: 0x81, Kind: device.KindBulkIn},
			device.OwnedEndpoint{Address: 0x01, Kind: device.KindBulkOut},
		).
		AddCDC("cdc", 0x83, 0x82, 0x02).
		Build(opts...)
}
