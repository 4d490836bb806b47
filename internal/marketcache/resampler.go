package marketcache

import (
	"fmt"
	"time"

	"github.com/marketscan/scanner/pkg/types"
)

// Resample turns 5-minute candles into the requested higher timeframe.
// Bucketing: for each 5m candle, the bucket start is the candle's time minus
// (minute % tf_minutes) minutes, with seconds/microseconds zeroed. open is
// the first candle's open in the bucket, high/low the extremes, close the
// last candle's close. The final bucket is always emitted even if it is
// still forming — callers that need only closed bars should drop the last
// element themselves.
func Resample(candles []types.Candle, tf types.Timeframe) ([]types.Candle, error) {
	if len(candles) == 0 {
		return nil, nil
	}

	minutes := tf.Minutes()
	if minutes == 0 {
		return nil, fmt.Errorf("unsupported timeframe for resampling: %s", tf)
	}
	if minutes == types.M5.Minutes() {
		out := make([]types.Candle, len(candles))
		copy(out, candles)
		return out, nil
	}

	var out []types.Candle
	var bucketStart time.Time
	var cur types.Candle
	haveBucket := false

	for _, c := range candles {
		t := c.Time.UTC()
		totalMin := t.Hour()*60 + t.Minute()
		remainder := totalMin % minutes
		bStart := t.Add(-time.Duration(remainder) * time.Minute)
		bStart = time.Date(bStart.Year(), bStart.Month(), bStart.Day(), bStart.Hour(), bStart.Minute(), 0, 0, time.UTC)

		if !haveBucket || !bStart.Equal(bucketStart) {
			if haveBucket {
				out = append(out, cur)
			}
			bucketStart = bStart
			cur = types.Candle{
				Time:  bStart,
				Open:  c.Open,
				High:  c.High,
				Low:   c.Low,
				Close: c.Close,
			}
			haveBucket = true
			continue
		}

		if c.High.GreaterThan(cur.High) {
			cur.High = c.High
		}
		if c.Low.LessThan(cur.Low) {
			cur.Low = c.Low
		}
		cur.Close = c.Close
	}

	if haveBucket {
		out = append(out, cur)
	}

	return out, nil
}
