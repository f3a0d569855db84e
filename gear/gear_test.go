package gear

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvance_SevenCycle(t *testing.T) {
	for _, s := range All {
		got := s
		for i := 0; i < Count; i++ {
			got = Advance(got)
		}
		require.Equal(t, s, got, "7 advances from %v", s)
	}
}

func TestAdvance_Edges(t *testing.T) {
	require.Equal(t, Gear1, Advance(Neutral))
	require.Equal(t, Neutral, Advance(Gear6))
	require.Equal(t, Gear4, Advance(Gear3))
	require.Equal(t, Neutral, Advance(State(42)))
}

func TestAdvance_VisitsEveryState(t *testing.T) {
	seen := map[State]bool{}
	s := Neutral
	for i := 0; i < Count; i++ {
		seen[s] = true
		s = Advance(s)
	}
	require.Len(t, seen, Count)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "N", Neutral.String())
	require.Equal(t, "3", Gear3.String())
	require.Equal(t, "State(7)", State(7).String())
	require.True(t, Gear6.Valid())
	require.False(t, State(7).Valid())
}
