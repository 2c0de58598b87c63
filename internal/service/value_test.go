package service

import (
	"encoding/json"
	"testing"
)

func TestValueAccessorsMatchKind(t *testing.T) {
	if _, ok := Bool(true).AsBool(); !ok {
		t.Error("bool accessor rejected a bool")
	}
	if _, ok := Bool(true).AsString(); ok {
		t.Error("string accessor accepted a bool")
	}
	if s, ok := String("hi").AsString(); !ok || s != "hi" {
		t.Errorf("AsString = %q, %v", s, ok)
	}
	if n, ok := Number(3.5).AsNumber(); !ok || n != 3.5 {
		t.Errorf("AsNumber = %v, %v", n, ok)
	}
	if Null().Kind() != KindNull {
		t.Errorf("Null kind = %s", Null().Kind())
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	in := Object(map[string]Value{
		"state":   String("started"),
		"running": Bool(true),
		"retries": Number(2),
		"flags":   Array([]Value{String("ready"), String("started")}),
		"extra":   Null(),
	})

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Value
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	obj, ok := out.AsObject()
	if !ok {
		t.Fatalf("decoded kind = %s, want object", out.Kind())
	}
	if s, _ := obj["state"].AsString(); s != "started" {
		t.Errorf("state = %q", s)
	}
	if b, _ := obj["running"].AsBool(); !b {
		t.Error("running lost in round trip")
	}
	arr, ok := obj["flags"].AsArray()
	if !ok || len(arr) != 2 {
		t.Errorf("flags = %v, %v", arr, ok)
	}
	if obj["extra"].Kind() != KindNull {
		t.Errorf("extra kind = %s, want null", obj["extra"].Kind())
	}
}

func TestRawMarshalsAsBase64(t *testing.T) {
	data, err := json.Marshal(Raw([]byte{0x01, 0x02}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"AQI="` {
		t.Errorf("raw marshal = %s", data)
	}
}
