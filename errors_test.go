package tcgomalloc

import "testing"

func TestInvariantPanicsWithMessage(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic")
		}
		err, ok := r.(*AllocatorError)
		if !ok {
			t.Fatalf("panic value is %T, want *AllocatorError", r)
		}
		if err.Op != "test-op" || err.Msg != "boom" {
			t.Fatalf("unexpected error fields: %+v", err)
		}
		if err.Error() == "" {
			t.Fatalf("Error() should not be empty")
		}
	}()
	invariant("test-op", false, "boom")
}

func TestInvariantNoPanicWhenTrue(t *testing.T) {
	invariant("test-op", true, "should not fire")
}
