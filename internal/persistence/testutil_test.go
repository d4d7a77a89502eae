package persistence

import "time"

func timeNowForTest() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
