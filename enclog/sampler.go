package enclog

import "gimbal/core"

// CountSource snapshots every encoder count
type CountSource interface {
	Counts() [3]int32
}

// Sampler pushes a sample into the ring at a fixed rate from a periodic
// timer callback
type Sampler struct {
	ring  *Ring
	enc   CountSource
	clock core.Clock
	timer core.PeriodicTimer
	fn    func()
}

func NewSampler(ring *Ring, enc CountSource, clock core.Clock, timer core.PeriodicTimer) *Sampler {
	s := &Sampler{ring: ring, enc: enc, clock: clock, timer: timer}
	s.fn = s.Sample
	return s
}

// Start arms the sampler at rateHz
func (s *Sampler) Start(rateHz uint32) {
	if rateHz == 0 {
		rateHz = 1
	}
	s.timer.Arm(core.TimerFreq/rateHz, s.fn)
}

func (s *Sampler) Stop() {
	s.timer.Disarm()
}

// Sample takes one snapshot (interrupt context)
func (s *Sampler) Sample() {
	s.ring.Push(Sample{TimestampUs: s.clock.NowMicros(), Counts: s.enc.Counts()})
}
