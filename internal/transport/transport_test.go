package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullSendFails(t *testing.T) {
	n := NewNull()
	require.NoError(t, n.Start(context.Background()))
	defer n.Close()

	err := n.Send(context.Background(), "0xabc", "hello")
	var nce *NotConnectedError
	require.True(t, errors.As(err, &nce))
	require.Equal(t, "0xabc", nce.To)
	require.Contains(t, err.Error(), "0xabc")
}

func TestNullHasNoInbound(t *testing.T) {
	n := NewNull()
	select {
	case m := <-n.Messages():
		t.Fatalf("unexpected inbound message: %+v", m)
	default:
	}
	require.Empty(t, n.Address())
}
