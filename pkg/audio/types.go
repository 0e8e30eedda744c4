package audio

import "time"

// DefaultSampleRate is the sample rate the dictation pipeline runs at.
// Recognizer backends expect 16 kHz mono input.
const DefaultSampleRate = 16000

// SampleCount returns the number of samples covering d at the given rate.
func SampleCount(d time.Duration, rate int) int64 {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}

// Duration returns the wall-clock duration of n samples at the given rate.
func Duration(n int64, rate int) time.Duration {
	if n <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(rate))
}
