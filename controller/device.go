package controller

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// busIDPrefix is the channel subsystem prefix of a fully qualified device bus id.
	busIDPrefix = "0.0."
	udidLength  = 32
	halfLength  = udidLength / 2
)

// Device is a boot device of the LPAR. A Device without UDID is a DASD,
// with a UDID it is an FCP device and the UDID names the SCSI disk behind it.
type Device struct {
	BusID string
	UDID  string
}

// NewDevice validates udid, when set, and returns the Device.
func NewDevice(busID, udid string) (Device, error) {
	if busID == "" {
		return Device{}, fmt.Errorf("device bus id is required")
	}
	if udid == "" {
		return Device{BusID: busID}, nil
	}
	target, lun, err := SplitUDID(udid)
	if err != nil {
		return Device{}, err
	}

	return Device{BusID: busID, UDID: target + lun}, nil
}

// IsFCP reports whether the device addresses a SCSI disk.
func (d Device) IsFCP() bool {
	return d.UDID != ""
}

// WWPN returns the target port half of the UDID with a 0x prefix, or an empty string for DASD.
func (d Device) WWPN() string {
	target, _, err := SplitUDID(d.UDID)
	if err != nil {
		return ""
	}
	return "0x" + target
}

// LUN returns the logical unit half of the UDID with a 0x prefix, or an empty string for DASD.
func (d Device) LUN() string {
	_, lun, err := SplitUDID(d.UDID)
	if err != nil {
		return ""
	}
	return "0x" + lun
}

// NormalizeBusID expands a 4 character device number to a full bus id.
// Already expanded ids are returned unchanged.
func NormalizeBusID(id string) string {
	if len(id) == 4 {
		return busIDPrefix + id
	}
	return id
}

// SplitUDID splits a 32 hex digit UDID into its 16 digit target and logical unit halves.
// A leading 0x is accepted.
func SplitUDID(udid string) (target, lun string, err error) {
	udid = stripHexPrefix(udid)
	if len(udid) != udidLength {
		return "", "", fmt.Errorf("udid must be %d hex digits, got %d", udidLength, len(udid))
	}
	if _, err := hex.DecodeString(udid); err != nil {
		return "", "", fmt.Errorf("udid %s is not hexadecimal: %w", udid, err)
	}

	return udid[:halfLength], udid[halfLength:], nil
}

// JoinUDID concatenates target and logical unit, each with an optional 0x prefix, into a UDID.
func JoinUDID(target, lun string) string {
	return stripHexPrefix(target) + stripHexPrefix(lun)
}

func stripHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// sameUDID compares a discovered instance id with a normalized UDID. The appliance
// reports some ids with a leading type digit.
func sameUDID(instanceID, udid string) bool {
	id := stripHexPrefix(instanceID)
	if len(id) == udidLength+1 {
		id = id[1:]
	}
	return strings.EqualFold(id, udid)
}
