package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DeviceFingerprint describes the hardware identity submitted by a device.
type DeviceFingerprint struct {
	HardwareID      string             `json:"hardware_id" validate:"required,max=128"`
	MACAddresses    []string           `json:"mac_addresses" validate:"max=16,dive,mac"`
	Capabilities    DeviceCapabilities `json:"capabilities"`
	InstallMetadata InstallMetadata    `json:"install_metadata"`
}

// DeviceCapabilities are display and software descriptors.
type DeviceCapabilities struct {
	Resolution string `json:"resolution,omitempty" validate:"omitempty,max=32"`
	OSVersion  string `json:"os_version,omitempty" validate:"omitempty,max=64"`
	AppVersion string `json:"app_version,omitempty" validate:"omitempty,max=64"`
}

// InstallMetadata records where and how the client was installed.
type InstallMetadata struct {
	Timezone string `json:"timezone,omitempty" validate:"omitempty,max=64"`
	Locale   string `json:"locale,omitempty" validate:"omitempty,max=35"`
}

// Hash returns a stable digest of the identifying fields. MAC ordering and case
// do not affect the result.
func (f *DeviceFingerprint) Hash() string {
	macs := make([]string, 0, len(f.MACAddresses))
	for _, mac := range f.MACAddresses {
		macs = append(macs, strings.ToLower(strings.TrimSpace(mac)))
	}
	sort.Strings(macs)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(f.HardwareID)))
	for _, mac := range macs {
		h.Write([]byte{0})
		h.Write([]byte(mac))
	}
	return hex.EncodeToString(h.Sum(nil))
}
