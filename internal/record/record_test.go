package record

import "testing"

func TestFieldsKeyIgnoresNonIdentityFields(t *testing.T) {
	t.Parallel()
	key := FieldsKey(FieldEventName, FieldStartDate)

	a := Record{FieldEventName: "Auto Show", FieldStartDate: "2026-02-07", FieldLocation: "SOUTH"}
	b := Record{FieldEventName: " Auto Show ", FieldStartDate: "2026-02-07", FieldLocation: "NORTH"}
	if key(a) != key(b) {
		t.Fatalf("expected equal keys, got %q and %q", key(a), key(b))
	}

	c := Record{FieldEventName: "Auto Show", FieldStartDate: "2026-02-08"}
	if key(a) == key(c) {
		t.Fatalf("expected different keys for different start dates")
	}
}

func TestFieldsKeyNoCollisionAcrossFieldBoundaries(t *testing.T) {
	t.Parallel()
	key := FieldsKey("a", "b")
	x := Record{"a": "ab", "b": "c"}
	y := Record{"a": "a", "b": "bc"}
	if key(x) == key(y) {
		t.Fatalf("keys collided: %q", key(x))
	}
}

func TestFieldsKeyDefaults(t *testing.T) {
	t.Parallel()
	r := Record{FieldEventName: "Boat Show", FieldStartDate: "2026-03-01"}
	if FieldsKey()(r) != FieldsKey(DefaultIdentityFields...)(r) {
		t.Fatal("empty field list should use the default identity fields")
	}
}

func TestCloneAllIsDeep(t *testing.T) {
	t.Parallel()
	in := []Record{{"k": "v"}}
	out := CloneAll(in)
	out[0]["k"] = "changed"
	if in[0]["k"] != "v" {
		t.Fatalf("CloneAll shared the underlying map")
	}
	if CloneAll(nil) == nil {
		t.Fatal("CloneAll(nil) must return an empty, non-nil slice")
	}
}

func TestEqualSlices(t *testing.T) {
	t.Parallel()
	a := []Record{{"x": "1"}, {"y": "2"}}
	b := []Record{{"x": "1"}, {"y": "2"}}
	if !EqualSlices(a, b) {
		t.Fatal("expected equal")
	}
	if EqualSlices(a, []Record{{"y": "2"}, {"x": "1"}}) {
		t.Fatal("order must matter")
	}
}
