package controller

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/wire"

	"github.com/kuutamolabs/kld/ln"
)

// fakeEngine implements ln.ChannelManager with just enough behavior for
// the controller logic under test; a method whose matching field a test
// has not filled in returns zero values rather than panicking, same
// pattern as event/event_test.go's fakeEngine.
type fakeEngine struct {
	entries     []ln.ChannelEntry
	updateErr   error
	lastCfg     ln.ChannelConfig
	lastCounter ln.NodeId
	lastIds     []ln.ChannelId
}

func (f *fakeEngine) NodeId() ln.NodeId               { return ln.NodeId{} }
func (f *fakeEngine) ListChannels() []ln.ChannelEntry { return f.entries }
func (f *fakeEngine) OpenChannel(ln.NodeId, uint64, uint64, ln.UserChannelId, ln.ChannelConfig) (ln.ChannelId, error) {
	return ln.ChannelId{}, nil
}
func (f *fakeEngine) CloseChannel(ln.ChannelId, ln.NodeId, *uint32) error   { return nil }
func (f *fakeEngine) ForceCloseChannel(ln.ChannelId, ln.NodeId, bool) error { return nil }
func (f *fakeEngine) UpdateChannelConfig(counterparty ln.NodeId, ids []ln.ChannelId, cfg ln.ChannelConfig) error {
	f.lastCounter = counterparty
	f.lastIds = ids
	f.lastCfg = cfg
	return f.updateErr
}
func (f *fakeEngine) FundingTransactionGenerated(ln.ChannelId, ln.NodeId, *wire.MsgTx) error {
	return nil
}
func (f *fakeEngine) SendPayment(ln.SendPaymentParams) ([]ln.PartialPaymentResult, error) {
	return nil, nil
}
func (f *fakeEngine) SendSpontaneousPayment(ln.PaymentId, ln.NodeId, uint64) ([]ln.PartialPaymentResult, error) {
	return nil, nil
}
func (f *fakeEngine) MarkChannelReady(ln.ChannelId) {}
func (f *fakeEngine) ClaimFunds(ln.PaymentPreimage) {}
func (f *fakeEngine) ProcessPendingHTLCForwards()   {}
func (f *fakeEngine) Events() <-chan ln.Event       { return nil }

func TestSetChannelFeeMergesWithExistingChannelConfig(t *testing.T) {
	var counterparty ln.NodeId
	counterparty[0] = 9
	existing := ln.ChannelConfig{ForwardingFeeBaseMsat: 1000, ForwardingFeePPM: 50}
	engine := &fakeEngine{entries: []ln.ChannelEntry{{
		Detail: ln.ChannelDetail{Counterparty: counterparty, Config: existing},
	}}}
	c := &Controller{engine: engine}

	newPPM := uint32(75)
	result, err := c.SetChannelFee(counterparty, nil, nil, &newPPM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ForwardingFeeBaseMsat != 1000 {
		t.Errorf("expected base fee to carry over unchanged, got %d", result.ForwardingFeeBaseMsat)
	}
	if result.ForwardingFeePPM != 75 {
		t.Errorf("expected ppm to be overridden to 75, got %d", result.ForwardingFeePPM)
	}
	if engine.lastCounter != counterparty {
		t.Errorf("expected UpdateChannelConfig to be called for %s, got %s", counterparty, engine.lastCounter)
	}
}

func TestSetChannelFeeFallsBackToDefaultConfigWhenNoChannelMatches(t *testing.T) {
	engine := &fakeEngine{}
	c := &Controller{engine: engine, defaultConfig: ln.ChannelConfig{ForwardingFeeBaseMsat: 500, ForwardingFeePPM: 10}}

	var unknown ln.NodeId
	unknown[0] = 42
	result, err := c.SetChannelFee(unknown, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ForwardingFeeBaseMsat != 500 || result.ForwardingFeePPM != 10 {
		t.Errorf("expected the default config unchanged, got %+v", result)
	}
}

func TestSetChannelFeeWrapsEngineError(t *testing.T) {
	engine := &fakeEngine{updateErr: errors.New("boom")}
	c := &Controller{engine: engine}

	if _, err := c.SetChannelFee(ln.NodeId{}, nil, nil, nil); err == nil {
		t.Fatal("expected an error from UpdateChannelConfig failure")
	}
}

func TestAcceptablePartialsToleratesMonitorUpdateInProgress(t *testing.T) {
	results := []ln.PartialPaymentResult{ln.PartialOK, ln.PartialMonitorUpdateInProgress}
	if !acceptablePartials(results) {
		t.Error("expected OK + MonitorUpdateInProgress to be acceptable")
	}
}

func TestAcceptablePartialsRejectsOtherFailure(t *testing.T) {
	results := []ln.PartialPaymentResult{ln.PartialOK, ln.PartialOtherFailure}
	if acceptablePartials(results) {
		t.Error("expected a PartialOtherFailure to make the whole payment unacceptable")
	}
}

func TestAcceptablePartialsEmptyIsAcceptable(t *testing.T) {
	if !acceptablePartials(nil) {
		t.Error("expected no partial results to be trivially acceptable")
	}
}

func TestCountPublicChannelsCountsOnlyPublicEntries(t *testing.T) {
	engine := &fakeEngine{entries: []ln.ChannelEntry{
		{Detail: ln.ChannelDetail{IsPublic: true}},
		{Detail: ln.ChannelDetail{IsPublic: false}},
		{Detail: ln.ChannelDetail{IsPublic: true}},
	}}
	c := &Controller{engine: engine}
	if got := c.countPublicChannels(); got != 2 {
		t.Errorf("got %d public channels, want 2", got)
	}
}
