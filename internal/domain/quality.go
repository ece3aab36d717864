package domain

import "time"

type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// PeerStats are the running transport statistics for one peer connection.
type PeerStats struct {
	PacketsLost     int64
	PacketsReceived int64
	Jitter          time.Duration
	RTT             time.Duration
}

// LossFraction is packets lost over packets expected, 0..1.
func (s PeerStats) LossFraction() float64 {
	total := s.PacketsLost + s.PacketsReceived
	if total == 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(total)
}

// ClassifyQuality maps transport stats onto a quality band. Bands are
// checked best to worst; all three metrics must fit a band to land in it:
//
//	excellent: loss < 1%, rtt < 100ms, jitter < 15ms
//	good:      loss < 3%, rtt < 250ms, jitter < 40ms
//	fair:      loss < 8%, rtt < 450ms, jitter < 100ms
//	poor:      anything worse
func ClassifyQuality(s PeerStats) Quality {
	loss := s.LossFraction()
	switch {
	case loss < 0.01 && s.RTT < 100*time.Millisecond && s.Jitter < 15*time.Millisecond:
		return QualityExcellent
	case loss < 0.03 && s.RTT < 250*time.Millisecond && s.Jitter < 40*time.Millisecond:
		return QualityGood
	case loss < 0.08 && s.RTT < 450*time.Millisecond && s.Jitter < 100*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}
