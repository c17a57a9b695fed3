// Package advert decodes BLE manufacturer-specific data into the Find-My
// payload shapes the scanner cares about. Decoding is a pure function and
// never fails: unrecognized or malformed data is the overwhelming common
// case on air, so it degrades to KindUnknown instead of returning errors.
package advert

import "tagfinder/internal/model"

// AppleCompanyID is the Bluetooth SIG company identifier for Apple.
const AppleCompanyID uint16 = 0x004C

// Apple advertisement sub-type discriminants.
const (
	typeOfflineFinding = 0x12 // registered Find-My network frame
	typeNearbyUnpaired = 0x07 // unregistered accessory, short frame
)

const (
	// Registered frame: type, length, status byte, 22 bytes of the rotated
	// public key, two trailing hint bytes.
	registeredFrameLen = 27
	registeredPayload  = 0x19
	statusOffset       = 2
	keyOffset          = 3

	// FragmentLen is how much of the rotated key is retained to detect
	// epoch boundaries. Keeping a prefix avoids storing the identifier.
	FragmentLen = 6
)

// Status byte bit table. The positions are decoder policy validated against
// reference advertisements, see DESIGN.md.
const (
	statusSeparated = 0x01
	statusPlaySound = 0x02
	statusLostHint  = 0x04
	batteryShift    = 6
)

// Decode parses one manufacturer-data block. The companyID is the 16-bit
// identifier the platform already split off the raw block.
func Decode(data []byte, companyID uint16) model.DecodedPayload {
	if companyID != AppleCompanyID || len(data) == 0 {
		return model.DecodedPayload{Kind: model.KindUnknown, BatteryTier: model.BatteryUnknown}
	}
	switch data[0] {
	case typeOfflineFinding:
		return decodeOfflineFinding(data)
	case typeNearbyUnpaired:
		if len(data) < 2 {
			return model.DecodedPayload{Kind: model.KindUnknown, BatteryTier: model.BatteryUnknown}
		}
		return model.DecodedPayload{
			Kind:        model.KindAirTagUnregistered,
			BatteryTier: model.BatteryUnknown,
		}
	default:
		// Some other Apple advertisement (iBeacon, handoff, nearby).
		return model.DecodedPayload{Kind: model.KindOtherBLE, BatteryTier: model.BatteryUnknown}
	}
}

func decodeOfflineFinding(data []byte) model.DecodedPayload {
	if len(data) < statusOffset+1 {
		// Type byte alone is not enough to read a status.
		return model.DecodedPayload{Kind: model.KindFindMyGeneric, BatteryTier: model.BatteryUnknown}
	}
	status := data[statusOffset]
	if len(data) < registeredFrameLen || data[1] != registeredPayload {
		// A Find-My network frame without the full registered shape: some
		// third-party accessory firmware truncates or restyles the frame.
		p := decodeStatus(status)
		p.Kind = model.KindFindMyGeneric
		return p
	}
	p := decodeStatus(status)
	p.Kind = model.KindAirTagRegistered
	fragment := make([]byte, FragmentLen)
	copy(fragment, data[keyOffset:keyOffset+FragmentLen])
	p.RotationKeyFragment = fragment
	return p
}

func decodeStatus(status byte) model.DecodedPayload {
	return model.DecodedPayload{
		HasStatus:         true,
		StatusByte:        status,
		IsSeparated:       status&statusSeparated != 0,
		IsPlaySoundActive: status&statusPlaySound != 0,
		IsLostModeHint:    status&statusLostHint != 0,
		BatteryTier:       batteryTier(status),
	}
}

func batteryTier(status byte) model.BatteryTier {
	switch status >> batteryShift & 0x03 {
	case 0:
		return model.BatteryFull
	case 1:
		return model.BatteryMedium
	case 2:
		return model.BatteryLow
	default:
		return model.BatteryVeryLow
	}
}
