package msc

import (
	"encoding/binary"

	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// Transport executes the SCSI commands carried by the bulk-only
// transport. The Driver owns the wire protocol; a Transport only sees
// decoded command blocks and data stages.
type Transport interface {
	// Command starts the command in cbw. For a data-in command the
	// returned slice is sent to the host; for a data-out command the data
	// stage is received into it. The status is final unless the command
	// has a data-out stage.
	Command(cbw *CommandBlockWrapper) (data []byte, status uint8)

	// DataReceived completes a data-out command once n bytes have been
	// received into the slice returned by Command.
	DataReceived(cbw *CommandBlockWrapper, n int) uint8

	// MaxLUN returns the highest logical unit number.
	MaxLUN() uint8

	// Reset abandons any command in progress.
	Reset()
}

// Disk is a single-LUN SCSI direct-access device over a Storage.
type Disk struct {
	storage Storage
	inquiry [InquiryStandardSize]byte

	senseKey uint8
	asc      uint8
	ascq     uint8

	buf [MaxTransferSize]byte
}

// NewDisk creates a disk reporting vendor and product in INQUIRY data.
func NewDisk(storage Storage, vendor, product string) *Disk {
	d := &Disk{storage: storage}

	d.inquiry[0] = DeviceTypeDisk
	if storage.IsRemovable() {
		d.inquiry[1] = InquiryRMB
	}
	d.inquiry[2] = InquiryVersionSPC4
	d.inquiry[3] = InquiryResponseFormatSPC
	d.inquiry[4] = InquiryStandardSize - 5
	copy(d.inquiry[8:16], padString(vendor, 8))
	copy(d.inquiry[16:32], padString(product, 16))
	copy(d.inquiry[32:36], padString("1.0", 4))
	return d
}

func padString(s string, length int) []byte {
	out := make([]byte, length)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

// Storage returns the backing store.
func (d *Disk) Storage() Storage {
	return d.storage
}

// Sense returns the current sense key and additional sense code.
func (d *Disk) Sense() (key, asc, ascq uint8) {
	return d.senseKey, d.asc, d.ascq
}

func (d *Disk) setSense(key, asc, ascq uint8) {
	d.senseKey, d.asc, d.ascq = key, asc, ascq
}

// fail records sense data and returns a failed status.
func (d *Disk) fail(key, asc uint8) ([]byte, uint8) {
	d.setSense(key, asc, 0)
	return nil, CSWStatusFailed
}

// MaxLUN implements Transport.
func (d *Disk) MaxLUN() uint8 {
	return 0
}

// Reset implements Transport.
func (d *Disk) Reset() {
	d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
}

// Command implements Transport.
func (d *Disk) Command(cbw *CommandBlockWrapper) ([]byte, uint8) {
	opcode := cbw.Opcode()

	pkg.LogDebug(pkg.ComponentMSC, "SCSI command",
		"opcode", opcode,
		"lun", cbw.LUN,
		"length", cbw.DataTransferLength)

	if cbw.LUN > d.MaxLUN() {
		return d.fail(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}

	switch opcode {
	case SCSITestUnitReady:
		if !d.storage.IsPresent() {
			return d.fail(SenseNotReady, ASCMediumNotPresent)
		}
		d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return nil, CSWStatusGood

	case SCSIRequestSense:
		buf := d.buf[:RequestSenseSize]
		for i := range buf {
			buf[i] = 0
		}
		buf[0] = 0x70 // current errors, fixed format
		buf[2] = d.senseKey & 0x0F
		buf[7] = RequestSenseSize - 8
		buf[12] = d.asc
		buf[13] = d.ascq
		d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return clampAlloc(buf, int(cbw.CB[4])), CSWStatusGood

	case SCSIInquiry:
		n := copy(d.buf[:], d.inquiry[:])
		return clampAlloc(d.buf[:n], int(binary.BigEndian.Uint16(cbw.CB[3:5]))), CSWStatusGood

	case SCSIReadCapacity10:
		if !d.storage.IsPresent() {
			return d.fail(SenseNotReady, ASCMediumNotPresent)
		}
		last := d.storage.BlockCount() - 1
		if last > 0xFFFFFFFF {
			last = 0xFFFFFFFF
		}
		binary.BigEndian.PutUint32(d.buf[0:4], uint32(last))
		binary.BigEndian.PutUint32(d.buf[4:8], d.storage.BlockSize())
		return d.buf[:8], CSWStatusGood

	case SCSIModeSense6:
		d.buf[0] = 3 // mode data length, header only
		d.buf[1] = 0
		d.buf[2] = 0
		if d.storage.IsReadOnly() {
			d.buf[2] = 0x80 // write protect
		}
		d.buf[3] = 0
		return clampAlloc(d.buf[:4], int(cbw.CB[4])), CSWStatusGood

	case SCSIRead10:
		return d.read(cbw)

	case SCSIWrite10:
		return d.prepareWrite(cbw)

	case SCSIStartStopUnit:
		start := cbw.CB[4]&0x01 != 0
		loej := cbw.CB[4]&0x02 != 0
		if loej && !start && d.storage.IsRemovable() {
			if err := d.storage.Eject(); err != nil {
				return d.fail(SenseIllegalRequest, ASCInvalidFieldInCDB)
			}
		}
		d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return nil, CSWStatusGood

	case SCSIPreventAllowRemoval, SCSIVerify10:
		d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return nil, CSWStatusGood

	case SCSISynchronizeCache10:
		if err := d.storage.Sync(); err != nil {
			return d.fail(SenseHardwareError, ASCNoAdditionalInfo)
		}
		d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return nil, CSWStatusGood

	default:
		pkg.LogWarn(pkg.ComponentMSC, "unsupported SCSI command", "opcode", opcode)
		return d.fail(SenseIllegalRequest, ASCInvalidCommand)
	}
}

// clampAlloc limits a response to the allocation length of the CDB.
func clampAlloc(data []byte, alloc int) []byte {
	if alloc < len(data) {
		return data[:alloc]
	}
	return data
}

// blockRange decodes and checks the LBA and block count of a 10-byte
// READ or WRITE.
func (d *Disk) blockRange(cbw *CommandBlockWrapper) (lba uint32, blocks uint16, length int, ok bool) {
	lba = binary.BigEndian.Uint32(cbw.CB[2:6])
	blocks = binary.BigEndian.Uint16(cbw.CB[7:9])
	length = int(blocks) * int(d.storage.BlockSize())

	if uint64(lba)+uint64(blocks) > d.storage.BlockCount() {
		d.setSense(SenseIllegalRequest, ASCLBAOutOfRange, 0)
		return 0, 0, 0, false
	}
	if length > len(d.buf) {
		d.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, 0, 0, false
	}
	return lba, blocks, length, true
}

func (d *Disk) read(cbw *CommandBlockWrapper) ([]byte, uint8) {
	if !d.storage.IsPresent() {
		return d.fail(SenseNotReady, ASCMediumNotPresent)
	}
	lba, blocks, length, ok := d.blockRange(cbw)
	if !ok {
		return nil, CSWStatusFailed
	}
	if blocks == 0 {
		return nil, CSWStatusGood
	}

	n, err := d.storage.Read(uint64(lba), uint32(blocks), d.buf[:length])
	if err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "read error", "lba", lba, "error", err)
		return d.fail(SenseMediumError, ASCNoAdditionalInfo)
	}
	return d.buf[:int(n)*int(d.storage.BlockSize())], CSWStatusGood
}

func (d *Disk) prepareWrite(cbw *CommandBlockWrapper) ([]byte, uint8) {
	if !d.storage.IsPresent() {
		return d.fail(SenseNotReady, ASCMediumNotPresent)
	}
	if d.storage.IsReadOnly() {
		return d.fail(SenseDataProtect, ASCWriteProtected)
	}
	_, blocks, length, ok := d.blockRange(cbw)
	if !ok {
		return nil, CSWStatusFailed
	}
	if blocks == 0 {
		return nil, CSWStatusGood
	}
	return d.buf[:length], CSWStatusGood
}

// DataReceived implements Transport.
func (d *Disk) DataReceived(cbw *CommandBlockWrapper, n int) uint8 {
	if cbw.Opcode() != SCSIWrite10 {
		d.setSense(SenseIllegalRequest, ASCInvalidCommand, 0)
		return CSWStatusFailed
	}

	lba := binary.BigEndian.Uint32(cbw.CB[2:6])
	blocks := uint32(n) / d.storage.BlockSize()

	pkg.LogDebug(pkg.ComponentMSC, "WRITE(10)", "lba", lba, "blocks", blocks)

	if _, err := d.storage.Write(uint64(lba), blocks, d.buf[:n]); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "write error", "lba", lba, "error", err)
		if errors.Is(err, ErrWriteProtected) {
			d.setSense(SenseDataProtect, ASCWriteProtected, 0)
		} else {
			d.setSense(SenseMediumError, ASCNoAdditionalInfo, 0)
		}
		return CSWStatusFailed
	}
	d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood
}

var _ Transport = (*Disk)(nil)
