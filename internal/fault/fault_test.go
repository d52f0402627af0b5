package fault

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKind_Fatal(t *testing.T) {
	tests := []struct {
		kind  Kind
		fatal bool
	}{
		{KindConfig, true},
		{KindEngine, true},
		{KindParse, false},
		{KindMatch, false},
		{KindUnsupportedBankCount, false},
		{KindIOAccess, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.fatal, tt.kind.Fatal())
		})
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := Errorf(KindParse, "vanadium: import", "no %s column", "RUN")
	wrapped := eris.Wrap(base, "load tables")

	assert.Equal(t, KindParse, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindParse))
	assert.False(t, Is(wrapped, KindConfig))
	assert.Contains(t, wrapped.Error(), "no RUN column")
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(errors.New("plain")))
	assert.True(t, IsFatal(New(KindEngine, "engine", "boom")))
	assert.False(t, IsFatal(New(KindIOAccess, "gsas", "read-only")))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(KindConfig, "op", nil))
}

func TestError_Message(t *testing.T) {
	err := New(KindConfig, "calib: select", "outside all eras")
	assert.Equal(t, "calib: select: outside all eras", err.Error())
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.Equal(t, "unknown", KindUnknown.String())
}
