package wire

import "time"

func timeNowPlus(ms int) time.Time {
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}
