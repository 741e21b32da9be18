package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chargeguard/internal/dispute"
)

type fakeEngine struct {
	proposed, applied bool
	opts              dispute.OptimizeOptions
	closed            bool
}

func (f *fakeEngine) Queue(_ context.Context, merchantID string) (*dispute.Queue, error) {
	if merchantID != "mer_1" {
		return nil, errors.New("merchant not found")
	}
	return &dispute.Queue{Total: 2, Ready: 1, Items: []dispute.QueueItem{}}, nil
}

func (f *fakeEngine) Sweep(context.Context) (*dispute.SweepReport, error) {
	return &dispute.SweepReport{Considered: 3, Submitted: 2}, nil
}

func (f *fakeEngine) Readiness(_ context.Context, id string) (*dispute.ReadinessResult, error) {
	return &dispute.ReadinessResult{DisputeID: id, Readiness: dispute.Readiness{Ready: true, Reason: "ready", Priority: 40}}, nil
}

func (f *fakeEngine) ProposeReasons(_ context.Context, _ string, opts dispute.OptimizeOptions) (*dispute.OptimizeResult, error) {
	f.proposed, f.opts = true, opts
	return &dispute.OptimizeResult{AllowList: []string{"duplicate"}}, nil
}

func (f *fakeEngine) OptimizeReasons(_ context.Context, _ string, opts dispute.OptimizeOptions) (*dispute.OptimizeResult, error) {
	f.applied, f.opts = true, opts
	return &dispute.OptimizeResult{AllowList: []string{"duplicate"}, Changed: true}, nil
}

func execute(t *testing.T, e *fakeEngine, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (engine, func(), error) {
		return e, func() { e.closed = true }, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQueueCommand(t *testing.T) {
	e := &fakeEngine{}
	out, err := execute(t, e, "queue", "mer_1")
	require.NoError(t, err)
	assert.Contains(t, out, "total: 2")
	assert.Contains(t, out, "ready: 1")
	assert.True(t, e.closed)

	_, err = execute(t, &fakeEngine{}, "queue", "mer_404")
	assert.ErrorContains(t, err, "merchant not found")
}

func TestSweepCommandJSON(t *testing.T) {
	out, err := execute(t, &fakeEngine{}, "sweep", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"submitted": 2`)
}

func TestReadinessCommand(t *testing.T) {
	out, err := execute(t, &fakeEngine{}, "readiness", "dp_9")
	require.NoError(t, err)
	assert.Contains(t, out, "disputeId: dp_9")
	assert.Contains(t, out, "reasonCode: ready")
}

func TestOptimizeCommand(t *testing.T) {
	e := &fakeEngine{}
	_, err := execute(t, e, "optimize", "mer_1", "--min-cases", "5")
	require.NoError(t, err)
	assert.True(t, e.proposed)
	assert.False(t, e.applied)
	assert.Equal(t, 5, e.opts.MinCases)
	require.NotNil(t, e.opts.MinWinRatePct)
	assert.Equal(t, dispute.DefaultMinWinRatePct, *e.opts.MinWinRatePct)

	e = &fakeEngine{}
	_, err = execute(t, e, "optimize", "mer_1", "--min-win-rate", "0")
	require.NoError(t, err)
	require.NotNil(t, e.opts.MinWinRatePct)
	assert.Zero(t, *e.opts.MinWinRatePct)

	e = &fakeEngine{}
	out, err := execute(t, e, "optimize", "mer_1", "--apply")
	require.NoError(t, err)
	assert.True(t, e.applied)
	assert.Contains(t, out, "changed: true")
}

func TestUnknownOutputFormat(t *testing.T) {
	e := &fakeEngine{}
	_, err := execute(t, e, "sweep", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
	assert.False(t, e.closed)
}

func TestArgsValidated(t *testing.T) {
	_, err := execute(t, &fakeEngine{}, "queue")
	assert.Error(t, err)
}
