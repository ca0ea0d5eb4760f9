package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyRoundsHalfUp(t *testing.T) {
	m := NewMoneyFromDecimal(decimal.RequireFromString("10.005"))
	if m.String() != "10.01" {
		t.Fatalf("want 10.01 got %s", m.String())
	}
	m = NewMoneyFromDecimal(decimal.RequireFromString("10.004"))
	if m.String() != "10.00" {
		t.Fatalf("want 10.00 got %s", m.String())
	}
}

func TestMoneyJSON(t *testing.T) {
	var payload struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"12.345","b":7.1}`), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.A.String() != "12.35" || payload.B.String() != "7.10" {
		t.Fatalf("unexpected values %s %s", payload.A, payload.B)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != `{"a":"12.35","b":"7.10"}` {
		t.Fatalf("unexpected json %s", out)
	}
}

func TestMoneyScanRoundsStoredValue(t *testing.T) {
	var m Money
	if err := m.Scan([]byte("41.995")); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if m.String() != "42.00" {
		t.Fatalf("want 42.00 got %s", m.String())
	}
	if err := m.Scan("not-a-number"); err == nil {
		t.Fatalf("scan should reject garbage")
	}
	var empty Money
	if err := json.Unmarshal([]byte(`null`), &empty); err != nil || !empty.IsZero() {
		t.Fatalf("null should leave zero money: %v %s", err, empty)
	}
}
