package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInitEmptyLevelDefaultsToInfo(t *testing.T) {
	Init("")
	if got := zerolog.GlobalLevel(); got != zerolog.InfoLevel {
		t.Errorf("global level = %s, want info", got)
	}
}

func TestInitExplicitLevel(t *testing.T) {
	Init("debug")
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Errorf("global level = %s, want debug", got)
	}
}

func TestInitUnknownLevelFallsBack(t *testing.T) {
	Init("shouting")
	if got := zerolog.GlobalLevel(); got != zerolog.InfoLevel {
		t.Errorf("global level = %s, want info fallback", got)
	}
}
