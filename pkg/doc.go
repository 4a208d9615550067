// Package pkg provides shared utilities for the compusb router.
//
// This package contains:
//
//   - Structured logging backed by [github.com/sirupsen/logrus]
//   - Sentinel errors for the routing and instance error taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
//	pkg.SetLogLevel(logrus.DebugLevel)
//	pkg.LogInfo(pkg.ComponentRouter, "slot resolved", "slot", 1)
//
// # Errors
//
// Errors are sentinel values wrapped with context via [github.com/pkg/errors]:
//
//	if errors.Is(err, pkg.ErrInstanceBusy) {
//	    // resubmit from the TransmitComplete callback
//	}
//
// [IsStall] reports which failures the host observes as a STALL.
package pkg
