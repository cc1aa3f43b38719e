package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControlPointStore struct {
	transactions []Transaction
	listErr      error
	eventErr     error
	events       []Event
}

func (f *fakeControlPointStore) ListTransactionsByProject(ctx context.Context, projectID int64) ([]Transaction, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.transactions, nil
}

func (f *fakeControlPointStore) CreateEvent(ctx context.Context, event Event) (Event, error) {
	if f.eventErr != nil {
		return Event{}, f.eventErr
	}
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return event, nil
}

func TestControlPointerCreate(t *testing.T) {
	store := &fakeControlPointStore{transactions: []Transaction{
		{ProjectID: 7, Direction: DirectionIn, Currency: "USD ($)", Amount: dec("150")},
		{ProjectID: 7, Direction: DirectionOut, Currency: "USD ($)", Amount: dec("50")},
	}}
	cp := NewControlPointer(store, NewAggregator(nil, testLogger()), []string{"USD ($)", "USDT (₮)"}, testLogger())

	sheet, recordedEvent, err := cp.Create(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(sheet["USD ($)"]))
	assert.Equal(t, int64(1), recordedEvent.ID)

	require.Len(t, store.events, 1)
	event := store.events[0]
	assert.Equal(t, "create", event.Name)
	assert.Equal(t, int64(7), event.ProjectID)
	assert.Equal(t, ControlPointObjectType, event.ObjectType)

	var recorded map[string]string
	require.NoError(t, json.Unmarshal(event.Data, &recorded))
	assert.Equal(t, "100", recorded["USD ($)"])
	assert.Equal(t, "0", recorded["USDT (₮)"])
}

func TestControlPointerCreateEventFailure(t *testing.T) {
	store := &fakeControlPointStore{
		transactions: []Transaction{{Direction: DirectionIn, Currency: "USD ($)", Amount: dec("10")}},
		eventErr:     errors.New("insert failed"),
	}
	cp := NewControlPointer(store, NewAggregator(nil, testLogger()), []string{"USD ($)"}, testLogger())

	sheet, _, err := cp.Create(context.Background(), 7)
	assert.Error(t, err)
	assert.Nil(t, sheet, "an unrecorded snapshot must not be returned")
}

func TestControlPointerCreateListFailure(t *testing.T) {
	store := &fakeControlPointStore{listErr: errors.New("timeout")}
	cp := NewControlPointer(store, NewAggregator(nil, testLogger()), []string{"USD ($)"}, testLogger())

	_, _, err := cp.Create(context.Background(), 7)
	assert.Error(t, err)
	assert.Empty(t, store.events)
}
