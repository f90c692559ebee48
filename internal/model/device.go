package model

import (
	"github.com/memora-app/memora/internal/apperror"
)

// Memora Box pairing states.
const (
	DevicePendingPairing = "pending_pairing"
	DeviceActive         = "active"
)

// Device is a Memora Box paired (or waiting to be paired) with a family.
// PairingCode is issued at registration and must be presented to activate;
// it is never returned on reads after activation.
type Device struct {
	ID          string `json:"id"`
	BoxID       string `json:"boxId"`
	FamilyID    string `json:"familyId"`
	Status      string `json:"status"`
	PairingCode string `json:"pairingCode,omitempty"`
}

func DecodeDevice(id string, data map[string]any) (*Device, error) {
	d := &Device{
		ID:          id,
		BoxID:       str(data, "boxId"),
		FamilyID:    str(data, "familyId"),
		Status:      str(data, "status"),
		PairingCode: str(data, "pairingCode"),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) Encode() map[string]any {
	data := map[string]any{
		"boxId":    d.BoxID,
		"familyId": d.FamilyID,
		"status":   d.Status,
	}
	if d.PairingCode != "" {
		data["pairingCode"] = d.PairingCode
	}
	return data
}

func (d *Device) Validate() error {
	if d.FamilyID == "" {
		return apperror.ValidationFailed("familyId", "device document has no familyId")
	}
	switch d.Status {
	case DevicePendingPairing, DeviceActive:
	default:
		return apperror.ValidationFailed("status", "unknown device status "+d.Status)
	}
	return nil
}
