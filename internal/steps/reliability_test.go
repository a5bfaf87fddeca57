package steps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// tracked stores a sent user message awaiting its receipt
func (f *fixture) tracked(t *testing.T, retries int) (*entities.OutMessage, *entities.ReceptionAwareness) {
	t.Helper()
	ctx := context.Background()
	snapshot, err := pmode.Marshal(withReceptionAwareness(sendingPMode("https://msh.example.org/as4"), retries))
	require.NoError(t, err)

	out := &entities.OutMessage{Status: entities.OutSent}
	out.EbmsMessageID = "m-1@example.org"
	out.EbmsMessageType = entities.UserMessageType
	out.Operation = entities.Sent
	out.PModeID = "send-1"
	out.PMode = snapshot
	require.NoError(t, f.repo.Insert(ctx, out))

	ra := &entities.ReceptionAwareness{
		RefToOutMessageID:  out.ID,
		RefToEbmsMessageID: out.EbmsMessageID,
		Status:             entities.ReceptionBusy,
		TotalRetryCount:    retries,
		RetryInterval:      time.Minute,
		LastSendTime:       f.now,
	}
	require.NoError(t, f.repo.Insert(ctx, ra))
	return out, ra
}

func (f *fixture) updateReceptionAwareness(t *testing.T, ra *entities.ReceptionAwareness) *entities.ReceptionAwareness {
	t.Helper()
	res := run(t, msh.NewContext(msh.ModeUnknown).WithReceptionAwareness(ra), &ReceptionAwarenessUpdateStep{Deps: f.deps})
	require.True(t, res.Succeeded)
	got, err := f.repo.FindReceptionAwareness(context.Background(), ra.RefToOutMessageID)
	require.NoError(t, err)
	return got
}

func (f *fixture) setOperation(t *testing.T, out *entities.OutMessage, op entities.Operation) {
	t.Helper()
	got := f.outMessage(t, out.ID)
	got.Operation = op
	require.NoError(t, f.repo.Save(context.Background(), got))
}

func TestReceptionAwareness_ResendsThenGivesUp(t *testing.T) {
	f := newFixture(t)
	out, ra := f.tracked(t, 1)

	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionPending, ra.Status, "interval not passed")
	assert.Equal(t, 0, ra.CurrentRetryCount)

	f.advance(time.Minute)
	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionPending, ra.Status)
	assert.Equal(t, 1, ra.CurrentRetryCount)
	assert.True(t, f.now.Equal(ra.LastSendTime))
	assert.Equal(t, entities.ToBeSent, f.outMessage(t, out.ID).Operation)

	// nothing happens while the message is being sent
	f.advance(time.Hour)
	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionPending, ra.Status)
	assert.Equal(t, 1, ra.CurrentRetryCount)

	f.setOperation(t, out, entities.Sent)
	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionCompleted, ra.Status)

	got := f.outMessage(t, out.ID)
	assert.Equal(t, entities.DeadLettered, got.Operation)
	assert.Equal(t, entities.OutNack, got.Status)

	// a MissingReceipt error is recorded for the producer
	ids := f.claim(t, entities.TableInMessages, entities.ToBeNotified)
	require.Len(t, ids, 1)
	in := f.inMessage(t, ids[0])
	assert.Equal(t, entities.ErrorType, in.EbmsMessageType)
	assert.Equal(t, "m-1@example.org", in.EbmsRefToMessageID)
	assert.Equal(t, "send-1", in.PModeID)
	assert.NotEmpty(t, in.MessageLocation)
}

func TestReceptionAwareness_CompletesOnAck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	out, ra := f.tracked(t, 3)

	got := f.outMessage(t, out.ID)
	got.Status = entities.OutAck
	require.NoError(t, f.repo.Save(ctx, got))

	f.advance(time.Minute)
	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionCompleted, ra.Status)
	assert.Equal(t, 0, ra.CurrentRetryCount)
	assert.Equal(t, entities.Sent, f.outMessage(t, out.ID).Operation)
}

func TestReceptionAwareness_CompletesForDeadLetteredMessage(t *testing.T) {
	f := newFixture(t)
	out, ra := f.tracked(t, 3)
	f.setOperation(t, out, entities.DeadLettered)

	f.advance(time.Minute)
	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionCompleted, ra.Status)
	assert.Empty(t, f.claim(t, entities.TableInMessages, entities.ToBeNotified))
}

func TestReceptionAwareness_MissingOutMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ra := &entities.ReceptionAwareness{RefToOutMessageID: 404, Status: entities.ReceptionBusy, TotalRetryCount: 1, RetryInterval: time.Minute}
	require.NoError(t, f.repo.Insert(ctx, ra))

	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionCompleted, ra.Status)
}

// receiptOnRead stores an Ack on the out message right after the first time
// it is read, as if the receipt arrived while the step was deciding.
type receiptOnRead struct {
	storage.Repository
	outID int64
	once  sync.Once
}

func (r *receiptOnRead) Get(ctx context.Context, id int64, e entities.Entity) error {
	if err := r.Repository.Get(ctx, id, e); err != nil {
		return err
	}
	if _, ok := e.(*entities.OutMessage); !ok || id != r.outID {
		return nil
	}
	var err error
	r.once.Do(func() {
		var stored entities.OutMessage
		if err = r.Repository.Get(ctx, id, &stored); err != nil {
			return
		}
		stored.Status = entities.OutAck
		err = r.Repository.Save(ctx, &stored)
	})
	return err
}

func TestReceptionAwareness_ReceiptArrivesWhileGivingUp(t *testing.T) {
	f := newFixture(t)
	out, ra := f.tracked(t, 0)
	f.deps.Repo = &receiptOnRead{Repository: f.repo, outID: out.ID}

	f.advance(time.Minute)
	ra = f.updateReceptionAwareness(t, ra)
	assert.Equal(t, entities.ReceptionCompleted, ra.Status)

	got := f.outMessage(t, out.ID)
	assert.Equal(t, entities.OutAck, got.Status)
	assert.Equal(t, entities.Sent, got.Operation)
	assert.Empty(t, f.claim(t, entities.TableInMessages, entities.ToBeNotified), "no MissingReceipt error")
}

func TestAcknowledge_KeepsOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	out, _ := f.tracked(t, 1)

	// the send agent moved the message after the receipt handler loaded it
	f.setOperation(t, out, entities.DeadLettered)
	require.NoError(t, f.deps.acknowledge(ctx, out, false))

	got := f.outMessage(t, out.ID)
	assert.Equal(t, entities.OutAck, got.Status)
	assert.Equal(t, entities.DeadLettered, got.Operation)
	ra, err := f.repo.FindReceptionAwareness(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ReceptionCompleted, ra.Status)
}

func TestRetryStep_TargetLeftRetryCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	in := &entities.InMessage{Status: entities.InDelivered}
	in.Operation = entities.Delivered
	require.NoError(t, f.repo.Insert(ctx, in))
	rr := &entities.RetryReliability{RefToInMessageID: in.ID, RetryType: entities.RetryDelivery, Status: entities.ReceptionBusy, MaxRetryCount: 3, RetryInterval: time.Minute}
	require.NoError(t, f.repo.Insert(ctx, rr))

	res := run(t, msh.NewContext(msh.ModeUnknown).WithRetryReliability(rr), &RetryStep{Deps: f.deps})
	assert.Equal(t, entities.ReceptionCompleted, res.Context.RetryReliability().Status)

	orphan := &entities.RetryReliability{RefToInMessageID: 404, Status: entities.ReceptionBusy}
	require.NoError(t, f.repo.Insert(ctx, orphan))
	res = run(t, msh.NewContext(msh.ModeUnknown).WithRetryReliability(orphan), &RetryStep{Deps: f.deps})
	assert.Equal(t, entities.ReceptionCompleted, res.Context.RetryReliability().Status)
}

func TestRetryStep_NotificationGoesBackToNotify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ex := &entities.InException{}
	ex.Operation = entities.ToBeRetried
	require.NoError(t, f.repo.Insert(ctx, ex))
	rr := &entities.RetryReliability{
		RefToInExceptionID: ex.ID,
		RetryType:          entities.RetryNotification,
		Status:             entities.ReceptionBusy,
		MaxRetryCount:      2,
		RetryInterval:      time.Minute,
		LastRetryTime:      f.now.Add(-time.Hour),
	}
	require.NoError(t, f.repo.Insert(ctx, rr))

	res := run(t, msh.NewContext(msh.ModeUnknown).WithRetryReliability(rr), &RetryStep{Deps: f.deps})
	got := res.Context.RetryReliability()
	assert.Equal(t, entities.ReceptionPending, got.Status)
	assert.Equal(t, 1, got.CurrentRetryCount)

	var target entities.InException
	require.NoError(t, f.repo.Get(ctx, ex.ID, &target))
	assert.Equal(t, entities.ToBeNotified, target.Operation)
}
