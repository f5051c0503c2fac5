package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatters(t *testing.T) {
	assert.Equal(t, "GOID:abc123", GOID("abc123"))
	assert.Equal(t, "Scene:Assets/Main.unity@Root/Player", Scene("Assets/Main.unity", "Root/Player"))
	assert.Equal(t, "Asset:Assets/Textures/rock.png", Asset("Assets/Textures/rock.png"))
	assert.Equal(t, "Instance:42", Instance(42))
}

func TestTracker_WillSurvivesDestruction(t *testing.T) {
	tr := NewTracker()
	tr.Observe(1, "Player", GOID("g-1"))

	id, ok := tr.GlobalID(1)
	assert.True(t, ok)
	assert.Equal(t, GOID("g-1"), id)
	assert.Equal(t, "Player", tr.DisplayName(1))

	tr.Destroy(1)
	assert.True(t, tr.IsDestroyed(1))

	id, ok = tr.GlobalID(1)
	assert.True(t, ok)
	assert.Equal(t, GOID("g-1"), id)
	assert.Equal(t, "Player", tr.DisplayName(1), "destroyed entity keeps its cached name, not Unknown")
}

func TestTracker_UnobservedReturnsUnknown(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, "Unknown", tr.DisplayName(999))
	_, ok := tr.GlobalID(999)
	assert.False(t, ok)
}

func TestTracker_DestroyTwiceIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Observe(1, "Player", GOID("g-1"))
	tr.Destroy(1)
	tr.Destroy(1)
	assert.Equal(t, Stats{Alive: 0, Destroyed: 1}, tr.Stats())
}

func TestTracker_ObserveWithoutGlobalIDMintsStableSyntheticOne(t *testing.T) {
	tr := NewTracker()
	tr.Observe(1, "Player", "")

	first, ok := tr.GlobalID(1)
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(first, "GOID:"))

	tr.Observe(1, "Player (renamed)", "")
	second, ok := tr.GlobalID(1)
	assert.True(t, ok)
	assert.Equal(t, first, second, "re-observing without a native id must keep the minted one, not replace it")
}

func TestTracker_Forget(t *testing.T) {
	tr := NewTracker()
	tr.Observe(1, "Player", GOID("g-1"))
	tr.Destroy(1)
	tr.Forget(1)
	assert.Equal(t, Stats{Alive: 0, Destroyed: 0}, tr.Stats())
	assert.Equal(t, "Unknown", tr.DisplayName(1))
}
