package transport

import "testing"

func TestFeatureBagSetGetRoundTrip(t *testing.T) {
	bag := NewFeatureBag()

	type myKey struct{}

	bag.Set(myKey{}, 42)

	v, ok := bag.Get(myKey{})
	if !ok {
		t.Fatal("expected Get to find the value set under myKey{}")
	}

	if v.(int) != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestFeatureBagGetMissingKey(t *testing.T) {
	bag := NewFeatureBag()

	type myKey struct{}

	if _, ok := bag.Get(myKey{}); ok {
		t.Fatal("expected Get on an empty bag to report not found")
	}
}

func TestFeatureBagSetOverwritesPreviousValue(t *testing.T) {
	bag := NewFeatureBag()

	type myKey struct{}

	bag.Set(myKey{}, "first")
	bag.Set(myKey{}, "second")

	v, ok := bag.Get(myKey{})
	if !ok || v.(string) != "second" {
		t.Fatalf("got v=%v ok=%v, want \"second\"/true", v, ok)
	}
}
