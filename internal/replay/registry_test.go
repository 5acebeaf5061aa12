package replay

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gymdesk/gymsync/internal/errors"
)

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	var got string
	require.NoError(t, r.Register(Func{
		Name: "send_message",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			got = string(payload)
			return nil
		},
	}))

	err := r.Execute(context.Background(), "send_message", json.RawMessage(`{"to":"+5491100000000"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"+5491100000000"}`, got)
}

func TestDuplicateKindRejected(t *testing.T) {
	r := NewRegistry()
	h := Func{Name: "exec", Run: func(context.Context, json.RawMessage) error { return nil }}
	require.NoError(t, r.Register(h))
	assert.Error(t, r.Register(h))
}

func TestEmptyKindRejected(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Func{Name: "", Run: func(context.Context, json.RawMessage) error { return nil }}))
}

func TestUnknownKindIsTerminal(t *testing.T) {
	r := NewRegistry()
	err := r.Execute(context.Background(), "vanished", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsTerminal(err))
}

func TestHandlerErrorPassesThrough(t *testing.T) {
	r := NewRegistry()
	boom := stderrors.New("gateway unreachable")
	require.NoError(t, r.Register(Func{
		Name: "send_message",
		Run:  func(context.Context, json.RawMessage) error { return boom },
	}))

	err := r.Execute(context.Background(), "send_message", nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, apperrors.IsTerminal(err), "plain errors stay transient")
}

func TestDecodeTyped(t *testing.T) {
	type payload struct {
		Statement string        `json:"statement"`
		Args      []interface{} `json:"args"`
	}

	p, err := Decode[payload](json.RawMessage(`{"statement":"UPDATE usuarios SET estado=$1","args":["activo"]}`))
	require.NoError(t, err)
	assert.Equal(t, "UPDATE usuarios SET estado=$1", p.Statement)
	require.Len(t, p.Args, 1)
}

func TestDecodeFailureIsTerminal(t *testing.T) {
	type payload struct {
		N int `json:"n"`
	}
	_, err := Decode[payload](json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.True(t, apperrors.IsTerminal(err))
}
