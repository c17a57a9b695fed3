package advert

import (
	"bytes"
	"testing"

	"tagfinder/internal/model"
)

func registeredFrame(status byte) []byte {
	data := make([]byte, registeredFrameLen)
	data[0] = typeOfflineFinding
	data[1] = registeredPayload
	data[2] = status
	for i := keyOffset; i < registeredFrameLen; i++ {
		data[i] = byte(i)
	}
	return data
}

func TestDecodeNonApple(t *testing.T) {
	p := Decode([]byte{0x12, 0x19, 0x00}, 0x0059)
	if p.Kind != model.KindUnknown {
		t.Fatalf("expected unknown kind, got %s", p.Kind)
	}
	if p.HasStatus || p.RotationKeyFragment != nil {
		t.Fatalf("derived fields must be absent for non-apple data")
	}
	if p.BatteryTier != model.BatteryUnknown {
		t.Fatalf("expected unknown battery, got %s", p.BatteryTier)
	}
}

func TestDecodeEmptyData(t *testing.T) {
	p := Decode(nil, AppleCompanyID)
	if p.Kind != model.KindUnknown {
		t.Fatalf("expected unknown kind, got %s", p.Kind)
	}
}

func TestDecodeRegisteredBaseline(t *testing.T) {
	p := Decode(registeredFrame(0x00), AppleCompanyID)
	if p.Kind != model.KindAirTagRegistered {
		t.Fatalf("expected registered airtag, got %s", p.Kind)
	}
	if !p.HasStatus {
		t.Fatalf("status byte must be present")
	}
	if p.IsSeparated || p.IsPlaySoundActive || p.IsLostModeHint {
		t.Fatalf("zero status must decode all flags false")
	}
	if p.BatteryTier != model.BatteryFull {
		t.Fatalf("zero status must decode battery full, got %s", p.BatteryTier)
	}
	want := []byte{keyOffset, keyOffset + 1, keyOffset + 2, keyOffset + 3, keyOffset + 4, keyOffset + 5}
	if !bytes.Equal(p.RotationKeyFragment, want) {
		t.Fatalf("wrong rotation fragment: %x", p.RotationKeyFragment)
	}
}

func TestDecodeStatusBits(t *testing.T) {
	if p := Decode(registeredFrame(statusSeparated), AppleCompanyID); !p.IsSeparated {
		t.Fatalf("separated bit not decoded")
	}
	if p := Decode(registeredFrame(statusPlaySound), AppleCompanyID); !p.IsPlaySoundActive {
		t.Fatalf("play-sound bit not decoded")
	}
	if p := Decode(registeredFrame(statusLostHint), AppleCompanyID); !p.IsLostModeHint {
		t.Fatalf("lost-mode bit not decoded")
	}
}

func TestDecodeBatteryTiers(t *testing.T) {
	tiers := map[byte]model.BatteryTier{
		0x00: model.BatteryFull,
		0x40: model.BatteryMedium,
		0x80: model.BatteryLow,
		0xC0: model.BatteryVeryLow,
	}
	for status, want := range tiers {
		p := Decode(registeredFrame(status), AppleCompanyID)
		if p.BatteryTier != want {
			t.Fatalf("status %#x: expected %s, got %s", status, want, p.BatteryTier)
		}
	}
}

func TestDecodeUnregistered(t *testing.T) {
	p := Decode([]byte{typeNearbyUnpaired, 0x05, 0x01, 0x02, 0x03}, AppleCompanyID)
	if p.Kind != model.KindAirTagUnregistered {
		t.Fatalf("expected unregistered airtag, got %s", p.Kind)
	}
	if p.HasStatus {
		t.Fatalf("unregistered frame carries no status byte")
	}
	if p.RotationKeyFragment != nil {
		t.Fatalf("unregistered frame carries no rotation key")
	}
}

func TestDecodeTruncatedFindMy(t *testing.T) {
	p := Decode([]byte{typeOfflineFinding, 0x05, 0x00, 0xAA}, AppleCompanyID)
	if p.Kind != model.KindFindMyGeneric {
		t.Fatalf("expected generic findmy, got %s", p.Kind)
	}
	if !p.HasStatus {
		t.Fatalf("truncated frame still carries its status byte")
	}
	if p.RotationKeyFragment != nil {
		t.Fatalf("truncated frame must not yield a rotation fragment")
	}
}

func TestDecodeOtherAppleType(t *testing.T) {
	p := Decode([]byte{0x02, 0x15, 0xAA, 0xBB}, AppleCompanyID)
	if p.Kind != model.KindOtherBLE {
		t.Fatalf("expected other ble, got %s", p.Kind)
	}
}
