package validation

import (
	"errors"
	"testing"

	phone_errors "clinic-phone/pkg/errors"
)

func TestSettingsPatch(t *testing.T) {
	t.Parallel()

	v := MustNew()
	if err := v.Validate(SettingsPatch, []byte(`{"ui":{"theme":"dark"},"behavior":{"ring_volume":40}}`)); err != nil {
		t.Fatalf("valid patch rejected: %v", err)
	}

	bad := []string{
		`{}`,
		`{"ui":{"theme":"neon"}}`,
		`{"behavior":{"ring_volume":140}}`,
		`{"behavior":{"default_country_code":"1"}}`,
		`{"colour":"red"}`,
		`not json`,
	}
	for _, doc := range bad {
		err := v.Validate(SettingsPatch, []byte(doc))
		if !errors.Is(err, phone_errors.ErrInvalidInput) {
			t.Fatalf("expected %s to be rejected as invalid input, got %v", doc, err)
		}
	}
}

func TestDeviceSelection(t *testing.T) {
	t.Parallel()

	v := MustNew()
	if err := v.Validate(DeviceSelection, []byte(`{"input_id":"headset-mic"}`)); err != nil {
		t.Fatalf("valid selection rejected: %v", err)
	}
	if err := v.Validate(DeviceSelection, []byte(`{"input_id":""}`)); !errors.Is(err, phone_errors.ErrInvalidInput) {
		t.Fatalf("empty id must be rejected, got %v", err)
	}
	if err := v.Validate("missing.json", []byte(`{}`)); err == nil || errors.Is(err, phone_errors.ErrInvalidInput) {
		t.Fatalf("unknown schema must be a plain error, got %v", err)
	}
}
