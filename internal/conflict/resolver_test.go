package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLargerTimestampWins(t *testing.T) {
	cases := []struct {
		name     string
		local    Version
		remote   Version
		tb       TieBreaker
		expected Decision
	}{
		{"local newer", Version{LogicalTS: 7, OpID: "a"}, Version{LogicalTS: 5, OpID: "z"}, TieBreakerNone, DecisionLocal},
		{"remote newer", Version{LogicalTS: 3}, Version{LogicalTS: 9}, TieBreakerLocal, DecisionRemote},
		{"missing local ts is zero", Version{}, Version{LogicalTS: 1}, TieBreakerLocal, DecisionRemote},
		{"missing remote ts is zero", Version{LogicalTS: 1}, Version{}, TieBreakerWebapp, DecisionLocal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Resolve(tc.local, tc.remote, tc.tb),
				"timestamp order decides regardless of op id and tie breaker")
		})
	}
}

func TestOpIDBreaksTimestampTie(t *testing.T) {
	assert.Equal(t, DecisionRemote,
		Resolve(Version{LogicalTS: 5, OpID: "a"}, Version{LogicalTS: 5, OpID: "b"}, TieBreakerNone))
	assert.Equal(t, DecisionLocal,
		Resolve(Version{LogicalTS: 5, OpID: "b"}, Version{LogicalTS: 5, OpID: "a"}, TieBreakerNone))
	// Byte order, not natural order: "10" < "9".
	assert.Equal(t, DecisionRemote,
		Resolve(Version{LogicalTS: 2, OpID: "10"}, Version{LogicalTS: 2, OpID: "9"}, TieBreakerNone))
}

func TestTieBreakerAppliedWhenUndecided(t *testing.T) {
	cases := []struct {
		tb       TieBreaker
		expected Decision
	}{
		{TieBreakerWebapp, DecisionRemote},
		{TieBreakerLocal, DecisionLocal},
		{TieBreakerRemote, DecisionRemote},
		{TieBreakerNone, DecisionConflict},
	}

	for _, tc := range cases {
		t.Run(string(tc.tb), func(t *testing.T) {
			// Equal timestamps, equal ids.
			assert.Equal(t, tc.expected,
				Resolve(Version{LogicalTS: 4, OpID: "x"}, Version{LogicalTS: 4, OpID: "x"}, tc.tb))
			// Equal timestamps, one id empty: id comparison is skipped.
			assert.Equal(t, tc.expected,
				Resolve(Version{LogicalTS: 4, OpID: ""}, Version{LogicalTS: 4, OpID: "x"}, tc.tb))
			// Both empty.
			assert.Equal(t, tc.expected,
				Resolve(Version{LogicalTS: 0}, Version{LogicalTS: 0}, tc.tb))
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	local := Version{LogicalTS: 5, OpID: "a"}
	remote := Version{LogicalTS: 5, OpID: "b"}

	first := Resolve(local, remote, TieBreakerNone)
	second := Resolve(local, remote, TieBreakerNone)
	assert.Equal(t, first, second)
	assert.Equal(t, DecisionRemote, first)
}

func TestResolverProducesAuditEntry(t *testing.T) {
	r := NewResolver(TieBreakerWebapp)

	decision, entry := r.Resolve("usuarios:42", Version{LogicalTS: 5, OpID: "n1-17"}, Version{LogicalTS: 5, OpID: "n1-17"})

	assert.Equal(t, DecisionRemote, decision)
	assert.Equal(t, "usuarios:42", entry.RecordRef)
	assert.Equal(t, int64(5), entry.LocalTS)
	assert.Equal(t, int64(5), entry.RemoteTS)
	assert.Equal(t, string(DecisionRemote), entry.Decision)
	assert.NotZero(t, entry.DetectedAt)
}
