package audit_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/actor"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/memstore"
	"github.com/ariefcatur/pos-ticketing/internal/pagination"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_RecordCapturesActorAndProvenance(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st := memstore.New("")
	log := audit.NewLog(logger, st.Audit())

	ctx := actor.WithActor(context.Background(), actor.Actor{Type: "admin", ID: "u1", Email: "u1@example.com"})
	ctx = actor.WithProvenance(ctx, actor.Provenance{IP: "10.0.0.7", UserAgent: "pos-tablet/2.1"})

	require.NoError(t, log.Record(ctx, nil, audit.Record{
		Action:     audit.ActionRejectOrder,
		OutletID:   "outlet-a",
		TargetType: audit.TargetOrder,
		TargetID:   "o1",
		Details:    map[string]any{"reason": "duplicate"},
	}))

	entries := st.AuditEntries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "admin", e.ActorType)
	assert.Equal(t, "u1@example.com", e.ActorEmail)
	assert.Equal(t, "10.0.0.7", e.IPAddress)
	assert.Equal(t, "pos-tablet/2.1", e.UserAgent)
	require.NotNil(t, e.OutletID)
	assert.Equal(t, "outlet-a", *e.OutletID)
	assert.Equal(t, "duplicate", e.Details["reason"])
}

func TestLog_RecordWithoutActorIsSystem(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st := memstore.New("")
	log := audit.NewLog(logger, st.Audit())

	require.NoError(t, log.Record(context.Background(), nil, audit.Record{Action: audit.ActionScanTicket, TargetType: audit.TargetTicket, TargetID: "t1"}))

	e := st.AuditEntries()[0]
	assert.Equal(t, actor.System.ID, e.ActorID)
	assert.Nil(t, e.OutletID)
	assert.NotNil(t, e.Details)
}

func TestLog_ListFilters(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st := memstore.New("")
	log := audit.NewLog(logger, st.Audit())

	alice := actor.WithActor(context.Background(), actor.Actor{Type: "admin", ID: "alice"})
	bob := actor.WithActor(context.Background(), actor.Actor{Type: "admin", ID: "bob"})
	for i, ctx := range []context.Context{alice, bob, alice, alice} {
		action := audit.ActionApproveOrder
		if i%2 == 1 {
			action = audit.ActionRejectOrder
		}
		require.NoError(t, log.Record(ctx, nil, audit.Record{Action: action, TargetType: audit.TargetOrder, TargetID: "o1"}))
	}

	got, err := log.List(context.Background(), audit.Filter{PerformedByID: "alice"})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = log.List(context.Background(), audit.Filter{Action: audit.ActionRejectOrder})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = log.List(context.Background(), audit.Filter{Page: pagination.New(intp(2), intp(1))})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	future := time.Now().Add(time.Hour)
	got, err = log.List(context.Background(), audit.Filter{From: &future})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func intp(v int) *int { return &v }
