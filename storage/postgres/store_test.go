package postgres

import (
	"encoding/json"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ConnectionString: "postgres://localhost/channelsync"}
	cfg.setDefaults()
	if cfg.TableName != "channel_products" {
		t.Errorf("table name = %q, want channel_products", cfg.TableName)
	}
	if cfg.MaxOpenConns != 25 || cfg.MaxIdleConns != 5 {
		t.Errorf("unexpected pool defaults: %+v", cfg)
	}
	if cfg.ConnMaxLifetime != time.Hour || cfg.ConnMaxIdleTime != 5*time.Minute {
		t.Errorf("unexpected lifetime defaults: %+v", cfg)
	}
	if cfg.Logger == nil {
		t.Error("logger default must not be nil")
	}
}

func TestNewStoreRequiresConnectionString(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestEncodeMetadata(t *testing.T) {
	if v, err := encodeMetadata(nil); err != nil || v != nil {
		t.Fatalf("empty metadata should encode to nil, got %v, %v", v, err)
	}

	v, err := encodeMetadata(map[string]string{"badge": "sale"})
	if err != nil {
		t.Fatalf("encodeMetadata failed: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(v.([]byte), &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded["badge"] != "sale" {
		t.Errorf("unexpected decoded metadata: %v", decoded)
	}
}

func TestEventPayloadRoundTrip(t *testing.T) {
	payload := EventPayload{
		ID:               "evt-1",
		Kind:             "ChannelPricingSynchronized",
		ProductID:        "p1",
		ChannelID:        "web",
		ConflictDetected: true,
		OccurredAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded EventPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Kind != payload.Kind || !decoded.ConflictDetected {
		t.Errorf("unexpected decoded payload: %+v", decoded)
	}
}

func TestNewListenerRequiresConnectionString(t *testing.T) {
	if _, err := NewListener("", nil); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}
