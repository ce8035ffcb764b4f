// Package hotness estimates per-key read rates and classifies keys into
// traffic tiers.
package hotness

// Recorder tracks recent accesses per key and estimates their rate.
type Recorder interface {
	Record(key string)
	QPS(key string) float64
	Snapshot() map[string]float64
	Forget(keys ...string)
	Len() int
}

type Tier int

const (
	TierCold Tier = iota
	TierWarm
	TierHot
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	default:
		return "cold"
	}
}

// Classifier maps a rate estimate onto a Tier. Tiers are never stored;
// they are recomputed from the current estimate each time.
type Classifier struct {
	Hot  float64
	Warm float64
}

func (c Classifier) Classify(qps float64) Tier {
	switch {
	case qps >= c.Hot:
		return TierHot
	case qps >= c.Warm:
		return TierWarm
	default:
		return TierCold
	}
}

func (c Classifier) IsHot(qps float64) bool { return c.Classify(qps) == TierHot }
