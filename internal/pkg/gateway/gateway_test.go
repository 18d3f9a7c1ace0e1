package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxSubmitDebit(t *testing.T) {
	g := NewSandbox()

	res, err := g.SubmitDebit(context.Background(), DebitRequest{IBAN: "DE89370400440532013000", Amount: 1999, Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.True(t, strings.HasPrefix(res.TransactionID, "sbx_"))
	assert.Len(t, g.Submitted(), 1)

	res, err = g.SubmitDebit(context.Background(), DebitRequest{IBAN: "DE89370400440532013000"})
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, res.Status)
	assert.Empty(t, res.TransactionID)
	assert.Len(t, g.Submitted(), 1)
}

func TestSandboxCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSandbox().SubmitDebit(ctx, DebitRequest{IBAN: "x", Amount: 1})
	require.Error(t, err)
	assert.True(t, IsExternal(err))
	assert.True(t, errors.Is(err, context.Canceled))
}
