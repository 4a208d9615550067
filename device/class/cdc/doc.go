// Package cdc implements the per-instance side of a CDC-ACM virtual serial
// port inside a composite device.
//
// Each CDC function slot is served by one Instance acquired from a
// fixed-capacity Pool when the device is configured. An Instance tracks
// transmit and receive state, the line coding, and any class command whose
// data stage is still outstanding. A single Handler drives all instances
// against the peripheral and reports events to the upstream Callbacks,
// passing the instance id so one consumer can serve several ports.
//
// # Transfers
//
// Transmit borrows the caller's buffer and marks the instance busy until
// the peripheral reports the IN transfer complete. A transfer whose length
// is a nonzero multiple of the bulk max packet size is followed by a
// zero-length packet so the host can find its end. Receptions are handed
// to Callbacks.Receive and the OUT endpoint is re-armed immediately, so
// the consumer must copy data it keeps.
//
// # Control
//
// Class requests without a data stage are dispatched at once. IN requests
// let the consumer fill the staging buffer before it is sent. OUT requests
// are staged until the data stage arrives and ControlRxReady runs.
// SET_LINE_CODING and GET_LINE_CODING are served from the instance record
// and forwarded to Callbacks.Control as well.
package cdc
