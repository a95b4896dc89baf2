package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

type sentMsg struct {
	subject string
	data    []byte
	opts    int
}

type fakeStream struct {
	sent []sentMsg
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMsg{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: "DISPATCH", Sequence: uint64(len(f.sent))}, nil
}

func TestJetStreamPublishesWithPrefix(t *testing.T) {
	fs := &fakeStream{}
	p := NewJetStreamWith(fs, "dispatch")

	err := p.Publish(context.Background(), SubjectTransfer, "ev-1", TransferEvent{EventID: "ev-1", TransferID: "t1", Status: "pending"})
	require.NoError(t, err)
	require.Len(t, fs.sent, 1)
	require.Equal(t, "dispatch.transfer.changed", fs.sent[0].subject)
	require.Equal(t, 1, fs.sent[0].opts)

	var got TransferEvent
	require.NoError(t, json.Unmarshal(fs.sent[0].data, &got))
	require.Equal(t, "t1", got.TransferID)

	fs.err = errors.New("nats down")
	require.Error(t, p.Publish(context.Background(), SubjectTransfer, "ev-2", TransferEvent{}))
	require.NoError(t, p.Close())
}

func TestEmitterEscalationOnExhaustedTransfer(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec)
	ctx := context.Background()

	em.TransferChanged(ctx, &model.ShiftTransfer{ID: "t1", RequestID: "r1", Status: model.TransferPending})
	require.Len(t, rec.Subjects(SubjectTransfer), 1)
	require.Empty(t, rec.Subjects(SubjectEscalation))

	em.TransferChanged(ctx, &model.ShiftTransfer{
		ID: "t1", RequestID: "r1", Status: model.TransferEscalated,
		Urgency: model.UrgencyCritical, RetryCount: 3, MaxRetries: 3,
		EscalationCode: "TRANSFER_EXHAUSTED",
	})
	esc := rec.Subjects(SubjectEscalation)
	require.Len(t, esc, 1)
	ev := esc[0].Payload.(EscalationEvent)
	require.Equal(t, "critical", ev.Severity)
	require.Equal(t, "t1", ev.TransferID)
	require.Equal(t, "TRANSFER_EXHAUSTED", ev.Code)

	em.ConflictRaised(ctx, &model.PlanningConflict{ID: "c1", Severity: model.SeverityHigh, Message: "覆盖不足"})
	require.Len(t, rec.Subjects(SubjectEscalation), 2)

	em.AssignmentDecided(ctx, &model.ShiftAssignment{ID: "a1", RequestID: "r1", CompositeScore: 0.8, AutoAssigned: true})
	got := rec.Subjects(SubjectAssignment)
	require.Len(t, got, 1)
	require.Equal(t, got[0].EventID, got[0].Payload.(AssignmentEvent).EventID)
}

type fakeHandler struct {
	requests []*RequestEvent
	shifts   []*ShiftEvent
	err      error
}

func (h *fakeHandler) HandleRequestEvent(_ context.Context, ev *RequestEvent) error {
	h.requests = append(h.requests, ev)
	return h.err
}

func (h *fakeHandler) HandleShiftEvent(_ context.Context, ev *ShiftEvent) error {
	h.shifts = append(h.shifts, ev)
	return h.err
}

func TestDispatchRoutesAndClassifies(t *testing.T) {
	ctx := context.Background()
	reqData := []byte(`{"type":"created","request_id":"r1","category":"elder_care","urgency":"urgent"}`)
	shiftData := []byte(`{"type":"cancelled","shift_id":"s1","reason":"病假"}`)

	tests := []struct {
		name    string
		subject string
		data    []byte
		err     error
		want    Outcome
	}{
		{"请求事件成功", "dispatch.in.request.created", reqData, nil, OutcomeAck},
		{"班次事件成功", "dispatch.in.shift.cancelled", shiftData, nil, OutcomeAck},
		{"无候选视为已处理", "dispatch.in.request.created", reqData, apperrors.NoEligibleCandidate("r1", "无人可派"), OutcomeAck},
		{"重复分配视为已处理", "dispatch.in.request.created", reqData, apperrors.AlreadyAssigned("r1", "a1"), OutcomeAck},
		{"存储故障重投", "dispatch.in.request.created", reqData, apperrors.StorageUnavailable("create", errors.New("io")), OutcomeNak},
		{"实体不存在终止", "dispatch.in.shift.cancelled", shiftData, apperrors.NotFound("shift", "s1"), OutcomeTerm},
		{"报文损坏终止", "dispatch.in.request.created", []byte("{"), nil, OutcomeTerm},
		{"缺少请求ID终止", "dispatch.in.request.created", []byte(`{"type":"created"}`), nil, OutcomeTerm},
		{"未知班次事件终止", "dispatch.in.shift.x", []byte(`{"type":"paused","shift_id":"s1"}`), nil, OutcomeTerm},
		{"未知主题终止", "dispatch.other", reqData, nil, OutcomeTerm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{err: tt.err}
			got, _ := Dispatch(ctx, h, "dispatch", tt.subject, tt.data)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRequestEventConversion(t *testing.T) {
	h := &fakeHandler{}
	_, err := Dispatch(context.Background(), h, "dispatch", "dispatch.in.request.created",
		[]byte(`{"type":"created","request_id":"r1","urgency":"urgent","required_specialization":["nursing"]}`))
	require.NoError(t, err)
	require.Len(t, h.requests, 1)

	req := h.requests[0].Request(fixedNow)
	require.Equal(t, model.UrgencyCritical, req.Urgency)
	require.Equal(t, model.RequestPending, req.Status)
	require.Equal(t, []string{"nursing"}, req.RequiredSpecializations)
}

var fixedNow = mustTime("2026-04-06T08:00:00Z")

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
