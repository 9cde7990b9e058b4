package testutil

import "testing"

// When and Then name sequential subtests of a scenario. Later steps observe
// the state earlier steps left behind.
func When(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("when "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("then "+desc, fn)
}
