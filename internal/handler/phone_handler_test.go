package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"clinic-phone/internal/diagnostics"
	"clinic-phone/internal/provider"
	"clinic-phone/internal/provider/simulator"
	"clinic-phone/internal/services"
	"clinic-phone/internal/store"
	"clinic-phone/internal/validation"
	phone_errors "clinic-phone/pkg/errors"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T) (*gin.Engine, *services.PhoneService) {
	t.Helper()

	timing := simulator.Timing{
		DialDelay:      2 * time.Millisecond,
		RingMin:        time.Hour,
		RingMax:        time.Hour,
		AnswerDelay:    2 * time.Millisecond,
		CallMin:        time.Hour,
		CallMax:        time.Hour,
		InboundTimeout: time.Hour,
		RegisterDelay:  2 * time.Millisecond,
		TransferDelay:  time.Hour,
		CleanupGrace:   time.Hour,
	}
	factory := func() provider.Provider {
		return simulator.New(
			simulator.WithTiming(timing),
			simulator.WithRandomizer(simulator.NewFixedRandomizer(0.5)),
		)
	}
	opts := func() provider.InitOptions { return provider.InitOptions{Identity: "1001", Server: "sim.local"} }
	svc := services.NewPhoneService(
		services.NewProviderManager(factory, opts, nil),
		store.New(100),
		diagnostics.New(100, "handler-test", nil),
		nil,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	h := NewPhoneHandler(svc, validation.MustNew(), nil)
	r := gin.New()
	r.POST("/calls", h.Dial)
	r.POST("/calls/redial", h.Redial)
	r.GET("/calls/:id", h.GetCall)
	r.POST("/calls/:id/answer", h.Answer)
	r.POST("/calls/:id/hangup", h.Hangup)
	r.POST("/calls/:id/hold", h.Hold)
	r.PUT("/devices", h.SetDevices)
	r.PATCH("/settings", h.UpdateSettings)
	r.GET("/diagnostics", h.Diagnostics)
	r.POST("/diagnostics/archive", h.ArchiveDiagnostics)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{phone_errors.ErrInvalidInput, http.StatusBadRequest},
		{phone_errors.NewCallError("c", phone_errors.CodeInvalidTarget, "bad"), http.StatusBadRequest},
		{phone_errors.NewCallError("c", phone_errors.CodeCallNotFound, "gone"), http.StatusNotFound},
		{phone_errors.NewDeviceError("x", phone_errors.CodeDeviceNotFound), http.StatusNotFound},
		{phone_errors.NewCallError("c", phone_errors.CodeInvalidState, "busy"), http.StatusConflict},
		{phone_errors.NewCallError("", phone_errors.CodeNotRegistered, "down"), http.StatusConflict},
		{fmt.Errorf("redial: %w", phone_errors.ErrNoLastNumber), http.StatusConflict},
		{phone_errors.ErrRateLimited, http.StatusTooManyRequests},
		{phone_errors.NewRegistrationError(phone_errors.CodeNetworkError, "timeout"), http.StatusBadGateway},
		{phone_errors.NewRegistrationError(phone_errors.CodeNotInitialized, "not ready"), http.StatusServiceUnavailable},
		{phone_errors.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestDialEndpointPlacesCall(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t)
	status, env := do(t, r, http.MethodPost, "/calls", `{"target":"+15551234567","association":{"patient_id":"p-1"}}`)
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("expected 201, got %d %+v", status, env)
	}
	var placed struct {
		ID          string `json:"id"`
		State       string `json:"state"`
		Association struct {
			PatientID string `json:"patient_id"`
		} `json:"association"`
	}
	if err := json.Unmarshal(env.Data, &placed); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if placed.ID == "" || placed.State != "DIALING" || placed.Association.PatientID != "p-1" {
		t.Fatalf("unexpected call %+v", placed)
	}
	if !svc.IsRegistered() {
		t.Fatalf("dial should have registered the line first")
	}

	status, _ = do(t, r, http.MethodGet, "/calls/"+placed.ID, "")
	if status != http.StatusOK {
		t.Fatalf("expected call lookup to succeed, got %d", status)
	}

	status, env = do(t, r, http.MethodPost, "/calls/"+placed.ID+"/hold", `{"on":true}`)
	if status != http.StatusConflict || env.Code != "INVALID_STATE" {
		t.Fatalf("hold while ringing: expected 409 INVALID_STATE, got %d %+v", status, env)
	}

	status, _ = do(t, r, http.MethodPost, "/calls/"+placed.ID+"/hangup", `{"disposition":"wrong_number"}`)
	if status != http.StatusOK {
		t.Fatalf("expected hangup to succeed, got %d", status)
	}
}

func TestDialEndpointRejectsBadInput(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	if status, env := do(t, r, http.MethodPost, "/calls", `{}`); status != http.StatusBadRequest || env.Code != "INVALID_REQUEST" {
		t.Fatalf("missing target: got %d %+v", status, env)
	}
	if status, env := do(t, r, http.MethodPost, "/calls", `{"target":"not a number"}`); status != http.StatusBadRequest || env.Code != "INVALID_TARGET" {
		t.Fatalf("bad target: got %d %+v", status, env)
	}
}

func TestCallErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	if status, env := do(t, r, http.MethodPost, "/calls/missing/answer", ""); status != http.StatusNotFound || env.Code != "CALL_NOT_FOUND" {
		t.Fatalf("answer unknown call: got %d %+v", status, env)
	}
	if status, env := do(t, r, http.MethodGet, "/calls/missing", ""); status != http.StatusNotFound || env.Code != "CALL_NOT_FOUND" {
		t.Fatalf("get unknown call: got %d %+v", status, env)
	}
	if status, env := do(t, r, http.MethodPost, "/calls/redial", ""); status != http.StatusConflict || env.Code != "NO_LAST_NUMBER" {
		t.Fatalf("redial without history: got %d %+v", status, env)
	}
	if status, env := do(t, r, http.MethodPost, "/calls/x/hangup", `{"disposition":"whatever"}`); status != http.StatusBadRequest {
		t.Fatalf("bad disposition: got %d %+v", status, env)
	}
}

func TestSetDevicesValidatesAndKeepsSelection(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t)
	if status, _ := do(t, r, http.MethodPut, "/devices", `{}`); status != http.StatusBadRequest {
		t.Fatalf("empty selection must fail schema validation, got %d", status)
	}
	if status, _ := do(t, r, http.MethodPut, "/devices", `{"speaker":"x"}`); status != http.StatusBadRequest {
		t.Fatalf("unknown field must fail schema validation, got %d", status)
	}

	before := svc.Store().Settings().Devices
	status, env := do(t, r, http.MethodPut, "/devices", `{"input_id":"nonexistent-id"}`)
	if status != http.StatusNotFound || env.Code != "DEVICE_NOT_FOUND" {
		t.Fatalf("expected DEVICE_NOT_FOUND, got %d %+v", status, env)
	}
	if svc.Store().Settings().Devices != before {
		t.Fatalf("selection changed after a rejected update")
	}

	status, _ = do(t, r, http.MethodPut, "/devices", `{"input_id":"headset-mic"}`)
	if status != http.StatusOK {
		t.Fatalf("expected known device to be accepted, got %d", status)
	}
	if got := svc.Store().Settings().Devices.InputID; got != "headset-mic" {
		t.Fatalf("expected headset-mic, got %q", got)
	}
}

func TestUpdateSettingsPatch(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t)
	if status, _ := do(t, r, http.MethodPatch, "/settings", `{"behavior":{"ring_volume":101}}`); status != http.StatusBadRequest {
		t.Fatalf("out of range volume must be rejected, got %d", status)
	}
	status, _ := do(t, r, http.MethodPatch, "/settings", `{"ui":{"theme":"dark"},"behavior":{"ring_volume":40}}`)
	if status != http.StatusOK {
		t.Fatalf("expected patch to apply, got %d", status)
	}
	s := svc.Store().Settings()
	if s.UI.Theme != "dark" || s.Behavior.RingVolume != 40 || !s.UI.ShowDialpad {
		t.Fatalf("patch not merged: %+v", s)
	}
}

func TestDiagnosticsAndArchive(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	do(t, r, http.MethodPost, "/calls/redial", "")

	status, env := do(t, r, http.MethodGet, "/diagnostics?limit=1", "")
	if status != http.StatusOK {
		t.Fatalf("expected diagnostics, got %d", status)
	}
	var entries []map[string]any
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0]["session_id"] != "handler-test" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if status, env := do(t, r, http.MethodPost, "/diagnostics/archive", ""); status != http.StatusServiceUnavailable {
		t.Fatalf("archive without storage: expected 503, got %d %+v", status, env)
	}
}
