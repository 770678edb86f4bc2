package router

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ismaiel54/alert-trade-router/internal/journal"
	"github.com/ismaiel54/alert-trade-router/internal/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIngestHarness(t *testing.T) (*harness, *Ingestor, *journal.Store) {
	t.Helper()
	h := newHarness(t)
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return h, NewIngestor(h.router, store, msg.TopicAlertsReplies, nil), store
}

func alertRecord(t *testing.T, a msg.AlertMsg, headers map[string]string) msg.Record {
	t.Helper()
	b, err := json.Marshal(a)
	require.NoError(t, err)
	return msg.Record{Topic: msg.TopicAlertsRaw, Key: msg.AlertKey(a.MessageID), Value: b, Headers: headers}
}

func TestIngest_RedeliveryIsNotReExecuted(t *testing.T) {
	h, ing, store := newIngestHarness(t)
	ctx := context.Background()

	rec := alertRecord(t, msg.AlertMsg{
		EventID:      "evt-1",
		MessageID:    "100",
		Text:         "DAX INDEX\n= LONG 100%\nENTRY = MARKET\nSTOP=900",
		TsUnixMillis: received.UnixMilli(),
	}, nil)

	require.NoError(t, ing.HandleRecord(ctx, rec))
	require.NoError(t, ing.HandleRecord(ctx, rec))
	assert.Equal(t, 1, h.ledger.Len("DAX"), "a redelivered alert must not open a second trade")

	pending, err := store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var reply map[string]any
	require.NoError(t, json.Unmarshal([]byte(pending[0].PayloadJSON), &reply))
	assert.Equal(t, "OPEN TRADE", reply["trade_type"])
	assert.Equal(t, "2024-05-06 08:30:15.123000", reply[FieldReceivedAt])
}

func TestIngest_EditIsNewRevision(t *testing.T) {
	h, ing, _ := newIngestHarness(t)
	ctx := context.Background()

	text := "DAX INDEX\n= LONG 100%\nENTRY = MARKET\nSTOP=900"
	require.NoError(t, ing.HandleRecord(ctx, alertRecord(t, msg.AlertMsg{MessageID: "7", Text: text}, nil)))

	edit := alertRecord(t, msg.AlertMsg{MessageID: "7", Revision: 1, Text: "DAX INDEX\n= LONG 100%\nENTRY = MARKET\nSTOP = 950"},
		map[string]string{msg.HeaderEdited: "true"})
	require.NoError(t, ing.HandleRecord(ctx, edit))

	assert.Equal(t, 1, h.ledger.Len("DAX"), "an edit resets the stop instead of opening")
	positions, err := h.broker.OpenPositions(ctx)
	require.NoError(t, err)
	for _, p := range positions["DE40"] {
		assert.Equal(t, 950.0, p.StopLoss)
	}
}

func TestIngest_ErrorsAreJournaled(t *testing.T) {
	_, ing, store := newIngestHarness(t)
	ctx := context.Background()

	require.NoError(t, ing.HandleRecord(ctx, alertRecord(t, msg.AlertMsg{MessageID: "9", Text: "Stop loss to 120"}, nil)))

	alerts, err := store.ListAlertsBetween(ctx, received.AddDate(-10, 0, 0), received.AddDate(10, 0, 0))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, journal.StatusHandled, alerts[0].Status)
	assert.Contains(t, alerts[0].Error, "no index")
}

func TestIngest_BadRecord(t *testing.T) {
	_, ing, _ := newIngestHarness(t)
	err := ing.HandleRecord(context.Background(), msg.Record{Value: []byte(`{"text": "no id"}`)})
	require.Error(t, err)
}
