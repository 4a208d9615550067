package msc

// USB Mass Storage Class codes.
const (
	ClassMSC         = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI Transparent Command Set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BOT)
)

// Bulk-Only Transport request codes.
const (
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the MSC device
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI operation codes served by Disk.
const (
	SCSITestUnitReady       = 0x00
	SCSIRequestSense        = 0x03
	SCSIInquiry             = 0x12
	SCSIModeSense6          = 0x1A
	SCSIStartStopUnit       = 0x1B
	SCSIPreventAllowRemoval = 0x1E
	SCSIReadCapacity10      = 0x25
	SCSIRead10              = 0x28
	SCSIWrite10             = 0x2A
	SCSIVerify10            = 0x2F
	SCSISynchronizeCache10  = 0x35
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseDataProtect    = 0x07
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo  = 0x00
	ASCInvalidCommand    = 0x20
	ASCLBAOutOfRange     = 0x21
	ASCInvalidFieldInCDB = 0x24
	ASCWriteProtected    = 0x27
	ASCMediumNotPresent  = 0x3A
)

// INQUIRY response constants.
const (
	InquiryStandardSize      = 36
	InquiryVersionSPC4       = 0x06
	InquiryResponseFormatSPC = 0x02
	InquiryRMB               = 0x80 // Removable media bit
	DeviceTypeDisk           = 0x00
)

// RequestSenseSize is the size of fixed-format sense data.
const RequestSenseSize = 18

// DefaultBlockSize is the block size of a Disk unless the storage says otherwise.
const DefaultBlockSize = 512

// MaxTransferSize is the largest data stage a Disk buffers.
const MaxTransferSize = 65536
