package utils

import "testing"

func TestGoroutineLeakDetectorNoLeak(t *testing.T) {
	detector := NewGoroutineLeakDetector(t)
	detector.Start()

	ch := make(chan struct{})
	go func() { ch <- struct{}{} }()
	<-ch

	detector.Check()
}
