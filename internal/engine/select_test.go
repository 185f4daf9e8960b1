package engine_test

import (
	"testing"

	"snapshot-capture/internal/engine"
)

func TestSelect(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", engine.NamePlaywright, engine.NameChromedp} {
		e, err := engine.Select(name, true, "")
		if err != nil {
			t.Errorf("%q: %v", name, err)
		}
		if e == nil {
			t.Errorf("%q: expected engine", name)
		}
	}

	if _, err := engine.Select("netscape", true, ""); err == nil {
		t.Error("expected error for unknown engine")
	}
}
