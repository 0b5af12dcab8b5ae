package settings

import (
	"encoding/json"
	"time"
)

// DeviceSelection holds the chosen audio device ids. Empty means "leave as is".
type DeviceSelection struct {
	InputID  string `json:"input_id,omitempty"`
	OutputID string `json:"output_id,omitempty"`
	RingerID string `json:"ringer_id,omitempty"`
}

// Merge overlays the non-empty ids of next onto s.
func (s DeviceSelection) Merge(next DeviceSelection) DeviceSelection {
	if next.InputID != "" {
		s.InputID = next.InputID
	}
	if next.OutputID != "" {
		s.OutputID = next.OutputID
	}
	if next.RingerID != "" {
		s.RingerID = next.RingerID
	}
	return s
}

type UIPreferences struct {
	Theme         string `json:"theme"`
	ShowDialpad   bool   `json:"show_dialpad"`
	CompactWidget bool   `json:"compact_widget"`
	ShowCallTimer bool   `json:"show_call_timer"`
}

type CallBehavior struct {
	AutoRegister        bool   `json:"auto_register"`
	WarmTransferDefault bool   `json:"warm_transfer_default"`
	RequireDisposition  bool   `json:"require_disposition"`
	RingVolume          int    `json:"ring_volume"`
	DefaultCountryCode  string `json:"default_country_code"`
}

// Settings are the durable operator preferences.
type Settings struct {
	Devices  DeviceSelection `json:"devices"`
	UI       UIPreferences   `json:"ui"`
	Behavior CallBehavior    `json:"behavior"`
}

func Default() Settings {
	return Settings{
		Devices: DeviceSelection{InputID: "default", OutputID: "default", RingerID: "default"},
		UI: UIPreferences{
			Theme:         "light",
			ShowDialpad:   true,
			ShowCallTimer: true,
		},
		Behavior: CallBehavior{
			AutoRegister:       true,
			RingVolume:         80,
			DefaultCountryCode: "+1",
		},
	}
}

// ApplyJSON overlays a partial JSON document onto s. Fields absent from raw keep their value.
func ApplyJSON(s Settings, raw []byte) (Settings, error) {
	out := s
	if err := json.Unmarshal(raw, &out); err != nil {
		return s, err
	}
	return out, nil
}

// PermissionState mirrors the browser permission vocabulary.
type PermissionState string

const (
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

type Permissions struct {
	Microphone PermissionState `json:"microphone"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

func DefaultPermissions() Permissions {
	return Permissions{Microphone: PermissionPrompt}
}

// Stats are derived from call history on every read.
type Stats struct {
	TotalCalls         int     `json:"total_calls"`
	InboundCalls       int     `json:"inbound_calls"`
	OutboundCalls      int     `json:"outbound_calls"`
	AnsweredCalls      int     `json:"answered_calls"`
	MissedCalls        int     `json:"missed_calls"`
	FailedCalls        int     `json:"failed_calls"`
	TodayCalls         int     `json:"today_calls"`
	TotalTalkSeconds   int64   `json:"total_talk_seconds"`
	AverageTalkSeconds float64 `json:"average_talk_seconds"`
	AnswerRate         float64 `json:"answer_rate"`
}
