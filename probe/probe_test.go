package probe

import (
	"testing"
	"time"

	"github.com/kuutamolabs/kld/config"
	"github.com/kuutamolabs/kld/ln"
)

type fakeSender struct {
	results []ln.PartialPaymentResult
	err     error
	calls   int
}

func (f *fakeSender) SendPayment(ln.SendPaymentParams) ([]ln.PartialPaymentResult, error) {
	f.calls++
	return f.results, f.err
}

type fakeRouter struct {
	path ln.Path
	err  error
}

func (r *fakeRouter) FindRoute(ln.NodeId, uint64, map[ln.ShortChannelId]bool) (ln.Path, error) {
	return r.path, r.err
}

func TestEnabledRequiresIntervalAndAmount(t *testing.T) {
	p, err := New(&fakeRouter{}, ln.NewInMemoryScorer(), ln.NewNetworkGraph(), &fakeSender{}, config.ProbeConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Enabled() {
		t.Fatal("expected probing disabled with zero interval/amount")
	}
}

func TestNewRejectsMalformedTarget(t *testing.T) {
	_, err := New(&fakeRouter{}, ln.NewInMemoryScorer(), ln.NewNetworkGraph(), &fakeSender{}, config.ProbeConfig{
		IntervalSeconds: 30,
		AmountMsat:      1000,
		Targets:         []string{"not-hex"},
	})
	if err == nil {
		t.Fatal("expected error for malformed target")
	}
}

func TestProbeSuccessfulPathScoresSuccess(t *testing.T) {
	scorer := ln.NewInMemoryScorer()
	path := ln.Path{1, 2, 3}
	p, err := New(&fakeRouter{path: path}, scorer, ln.NewNetworkGraph(), &fakeSender{results: []ln.PartialPaymentResult{ln.PartialOK}}, config.ProbeConfig{
		IntervalSeconds: 30,
		AmountMsat:      1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	p.probe(ln.NodeId{}, 1000)

	success, failure := scorer.Snapshot()
	if success[1] != 1 || success[2] != 1 || success[3] != 1 {
		t.Errorf("expected every hop scored successful, got %+v", success)
	}
	if len(failure) != 0 {
		t.Errorf("expected no failures, got %+v", failure)
	}
}

func TestProbeFailurePopsLastHopUntilSuccess(t *testing.T) {
	scorer := ln.NewInMemoryScorer()
	path := ln.Path{10, 20, 30}
	// Fail the first two attempts (full path, then path minus the last
	// hop), succeed once only a single hop remains.
	sender := &countingFailThenSucceed{failCount: 2}
	p, err := New(&fakeRouter{path: path}, scorer, ln.NewNetworkGraph(), sender, config.ProbeConfig{
		IntervalSeconds: 30,
		AmountMsat:      1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	p.probe(ln.NodeId{}, 1000)

	success, _ := scorer.Snapshot()
	if success[10] != 1 {
		t.Errorf("expected the surviving single-hop path to score successful, got %+v", success)
	}
}

func TestProbeExhaustedPathScoresFailureOnLastHop(t *testing.T) {
	scorer := ln.NewInMemoryScorer()
	path := ln.Path{10, 20}
	p, err := New(&fakeRouter{path: path}, scorer, ln.NewNetworkGraph(), &fakeSender{err: errAlways}, config.ProbeConfig{
		IntervalSeconds: 30,
		AmountMsat:      1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	p.probe(ln.NodeId{}, 1000)

	_, failure := scorer.Snapshot()
	if failure[10] != 1 {
		t.Errorf("expected the last remaining hop scored as the failing link, got %+v", failure)
	}
}

func TestStopReturnsPromptlyWhenDisabled(t *testing.T) {
	p, err := New(&fakeRouter{}, ln.NewInMemoryScorer(), ln.NewNetworkGraph(), &fakeSender{}, config.ProbeConfig{})
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	p.Stop(100 * time.Millisecond)
}

type countingFailThenSucceed struct {
	calls     int
	failCount int
}

func (c *countingFailThenSucceed) SendPayment(ln.SendPaymentParams) ([]ln.PartialPaymentResult, error) {
	c.calls++
	if c.calls <= c.failCount {
		return nil, errAlways
	}
	return []ln.PartialPaymentResult{ln.PartialOK}, nil
}

var errAlways = &probeErr{"probe attempt failed"}

type probeErr struct{ msg string }

func (e *probeErr) Error() string { return e.msg }
