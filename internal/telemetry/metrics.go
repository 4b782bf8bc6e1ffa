package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jensholdgaard/sealedbid"

// Instruments are the counters shared by intake, settlement and fan-out.
type Instruments struct {
	BidsAccepted      metric.Int64Counter
	BidsRejected      metric.Int64Counter
	PublishFailures   metric.Int64Counter
	SettleAttempts    metric.Int64Counter
	IntegrityFaults   metric.Int64Counter
	FanoutDelivered   metric.Int64Counter
	FanoutSkipped     metric.Int64Counter
	FanoutOpenStreams metric.Int64UpDownCounter
}

// NewInstruments registers the instruments on mp.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	m := mp.Meter(meterName)
	var (
		in  Instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.BidsAccepted, "bids.accepted", "Bids recorded by intake."},
		{&in.BidsRejected, "bids.rejected", "Bids rejected by intake, by kind."},
		{&in.PublishFailures, "events.publish_failures", "Event publishes that failed, by topic."},
		{&in.SettleAttempts, "settlement.attempts", "Settlement attempts, by status."},
		{&in.IntegrityFaults, "settlement.integrity_faults", "Broken invariants detected during settlement."},
		{&in.FanoutDelivered, "fanout.delivered", "Round results written to participant streams."},
		{&in.FanoutSkipped, "fanout.skipped", "Round results for players not connected to this instance."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating counter %s: %w", c.name, err)
		}
	}
	in.FanoutOpenStreams, err = m.Int64UpDownCounter("fanout.open_streams",
		metric.WithDescription("Participant streams currently open on this instance."))
	if err != nil {
		return nil, fmt.Errorf("creating counter fanout.open_streams: %w", err)
	}
	return &in, nil
}
