package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
	"github.com/memora-app/memora/internal/model"
)

// DeviceService manages the memory boxes paired to a family. A registered
// box waits in pending_pairing with a one-time pairing code; activation with
// the right code flips it to active and burns the code.
type DeviceService struct {
	store  docstore.Store
	logger *slog.Logger
}

func NewDeviceService(store docstore.Store, logger *slog.Logger) *DeviceService {
	return &DeviceService{store: store, logger: logger}
}

// Register attaches a new memory box to the acting user's family and returns
// the device with its pairing code. The code is shown once here and deleted
// on activation.
func (s *DeviceService) Register(ctx context.Context, actingUserID, boxID string) (*model.Device, error) {
	boxID = strings.TrimSpace(boxID)
	if boxID == "" {
		return nil, apperror.ValidationFailed("boxId", "a box id is required")
	}

	userDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Users, actingUserID)
	if err != nil {
		return nil, err
	}
	user, err := model.DecodeUser(userDoc.ID, userDoc.Data)
	if err != nil {
		return nil, err
	}
	if user.FamilyID == "" {
		return nil, apperror.Forbidden("you do not belong to a family")
	}

	device := &model.Device{
		BoxID:       boxID,
		FamilyID:    user.FamilyID,
		Status:      model.DevicePendingPairing,
		PairingCode: uuid.NewString(),
	}
	id, err := s.store.Add(ctx, docstore.AsUser(actingUserID), docstore.Devices, device.Encode())
	if err != nil {
		return nil, err
	}
	device.ID = id

	s.logger.Info("device registered",
		slog.String("deviceID", id),
		slog.String("familyID", user.FamilyID),
	)
	return device, nil
}

// Activate pairs a pending device using its pairing code. Activating an
// already active device is a no-op.
func (s *DeviceService) Activate(ctx context.Context, actingUserID, deviceID, pairingCode string) error {
	err := withConflictRetry(s.logger, "activate device", func() error {
		return s.store.RunTransaction(ctx, docstore.AsUser(actingUserID), func(tx docstore.Tx) error {
			doc, err := tx.Get(docstore.Devices, deviceID)
			if err != nil {
				return err
			}
			device, err := model.DecodeDevice(doc.ID, doc.Data)
			if err != nil {
				return err
			}
			if device.Status == model.DeviceActive {
				return nil
			}
			if device.PairingCode == "" || device.PairingCode != pairingCode {
				return apperror.ValidationFailed("pairingCode", "incorrect pairing code")
			}
			return tx.Update(docstore.Devices, deviceID, map[string]any{
				"status":      model.DeviceActive,
				"pairingCode": nil,
			})
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("device activated", slog.String("deviceID", deviceID))
	return nil
}

// List returns the devices paired to the acting user's family.
func (s *DeviceService) List(ctx context.Context, actingUserID string) ([]model.Device, error) {
	userDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Users, actingUserID)
	if err != nil {
		return nil, err
	}
	user, err := model.DecodeUser(userDoc.ID, userDoc.Data)
	if err != nil {
		return nil, err
	}
	if user.FamilyID == "" {
		return nil, apperror.Forbidden("you do not belong to a family")
	}

	docs, err := s.store.List(ctx, docstore.AsUser(actingUserID), docstore.Devices, "familyId", user.FamilyID)
	if err != nil {
		return nil, err
	}

	devices := make([]model.Device, 0, len(docs))
	for _, d := range docs {
		device, err := model.DecodeDevice(d.ID, d.Data)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, nil
}
