package store

import "time"

// Summary describes a metric over a time window.
type Summary struct {
	DeviceID string    `json:"device_id"`
	Metric   string    `json:"metric"`
	Unit     string    `json:"unit"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Count    int       `json:"count"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Mean     float64   `json:"mean"`
	First    time.Time `json:"first"`
	Last     time.Time `json:"last"`
}

// Summarize computes min/max/mean statistics over the readings of a key
// within [from, to]. Returns ErrSeriesNotFound for an unknown key; a
// known key with no data in the window yields a Summary with Count 0.
func (s *Store) Summarize(deviceID, metric string, from, to time.Time) (Summary, error) {
	readings, err := s.Range(deviceID, metric, from, to)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		DeviceID: deviceID,
		Metric:   metric,
		From:     from,
		To:       to,
		Count:    len(readings),
	}
	if len(readings) == 0 {
		return sum, nil
	}

	sum.Unit = readings[0].Unit
	sum.Min = readings[0].Value
	sum.Max = readings[0].Value
	sum.First = readings[0].SourceTime
	sum.Last = readings[len(readings)-1].SourceTime

	var total float64
	for _, r := range readings {
		total += r.Value
		if r.Value < sum.Min {
			sum.Min = r.Value
		}
		if r.Value > sum.Max {
			sum.Max = r.Value
		}
	}
	sum.Mean = total / float64(len(readings))
	return sum, nil
}
