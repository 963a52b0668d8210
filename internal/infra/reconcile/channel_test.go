package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/app/policies"
	domainpayments "venuebook/internal/domain/payments"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/infra/storage/memory"
	"venuebook/internal/infra/storage/s3"
)

type archiveSpy struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (a *archiveSpy) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	a.bodies = append(a.bodies, body)
	return "s3://warnings/" + key, nil
}

type kindCounter map[string]int

func (k kindCounter) RecordWarning(kind string) { k[kind]++ }

func mismatch() policies.ReconciliationWarning {
	at := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)
	stored := domainpayments.Transaction{
		ID:           "tx-row-1",
		BookingID:    "bk-1",
		Provider:     domainpayments.ProviderClick,
		ProviderTxID: "9911/22",
		Amount:       money.Must(21_000_000, "UZS"),
		Status:       domainpayments.TxInitiated,
	}
	return policies.ReconciliationWarning{
		Kind:         policies.WarningAmountMismatch,
		BookingID:    "bk-1",
		Provider:     domainpayments.ProviderClick,
		ProviderTxID: "9911/22",
		Stored:       &stored,
		Attempt: domainpayments.Attempt{
			BookingID: "bk-1",
			Amount:    money.Must(20_000_000, "UZS"),
			Status:    domainpayments.TxCompleted,
		},
		At: at,
	}
}

func TestChannel_ArchivesQueuesAndCounts(t *testing.T) {
	archive := &archiveSpy{}
	box := memory.NewOutbox()
	counter := kindCounter{}
	ch := Channel{Archive: archive, Outbox: box, Recorder: counter}

	require.NoError(t, ch.Report(context.Background(), mismatch()))

	require.Equal(t, []string{"reconciliation/2026/05/01/click/9911_22-amount_mismatch.json"}, archive.keys)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(archive.bodies[0], &doc))
	assert.Equal(t, "amount_mismatch", doc["kind"])
	assert.EqualValues(t, 20_000_000, doc["attempt_amount"].(map[string]any)["amount"])
	assert.EqualValues(t, 21_000_000, doc["stored"].(map[string]any)["amount"].(map[string]any)["amount"])

	pending := box.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, warningEventName, pending[0].Name)
	assert.Equal(t, "amount_mismatch", pending[0].Headers["warning_kind"])
	assert.Equal(t, 1, counter["amount_mismatch"])
}

func TestChannel_DisabledArchiveIsNotAnError(t *testing.T) {
	ch := Channel{Archive: s3.NoopArchiver{}}
	assert.NoError(t, ch.Report(context.Background(), mismatch()))
}

func TestChannel_ArchiveFailureStillQueues(t *testing.T) {
	box := memory.NewOutbox()
	ch := Channel{Archive: &archiveSpy{err: errors.New("bucket gone")}, Outbox: box}

	err := ch.Report(context.Background(), mismatch())
	require.Error(t, err)
	assert.Len(t, box.Pending(), 1)
}
