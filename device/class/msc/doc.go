// Package msc implements a USB Mass Storage function for the composite
// router: the Bulk-Only Transport (BOT) as a composite.ForeignDriver and
// a SCSI direct-access disk behind it.
//
// # Bulk-Only Transport
//
// Each command runs in up to three stages on the slot's bulk endpoints:
//
//  1. The host sends a 31-byte Command Block Wrapper (CBW) on bulk OUT.
//  2. An optional data stage moves data in the direction the CBW names.
//  3. The device answers with a 13-byte Command Status Wrapper (CSW) on
//     bulk IN.
//
// Driver is event driven. It never blocks: every stage is queued on the
// hal.Peripheral and advanced from the DataIn and DataOut completions the
// composite.Dispatcher routes to it.
//
// # SCSI
//
// Commands are executed by a Transport. Disk serves the command set a
// host needs to mount a single logical unit:
//
//   - TEST UNIT READY, REQUEST SENSE, INQUIRY
//   - READ CAPACITY(10), MODE SENSE(6)
//   - READ(10), WRITE(10), VERIFY(10), SYNCHRONIZE CACHE(10)
//   - START STOP UNIT, PREVENT ALLOW MEDIUM REMOVAL
//
// # Storage
//
// Disk reads and writes blocks through the Storage interface.
// MemoryStorage is a RAM disk and FileStorage serves a disk image.
//
// # Usage
//
//	table, _ := composite.MSCCDC()
//	reg := composite.NewRegistry(cdc.DefaultPoolCapacity)
//
//	disk := msc.NewDisk(msc.NewMemoryStorage(1<<20, 512), "compusb", "RAM Disk")
//	slot, _ := table.ByInterface(0)
//	reg.RegisterForeign(slot.ID, msc.New(periph, dev, disk))
//
//	d := composite.NewDispatcher(dev, table, reg, periph)
//	d.Configure(1)
package msc
