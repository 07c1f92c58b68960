package update

// ProgressSink receives download progress as a percentage in [0,100].
// Values never decrease within one transfer.
type ProgressSink interface {
	OnPercent(percent int)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(percent int)

// OnPercent calls f.
func (f ProgressFunc) OnPercent(percent int) {
	f(percent)
}

// EventSink is notified of the state of an update run. Calls are made from
// the goroutine running the Updater; implementations must not block for long.
type EventSink interface {
	CurrentVersion(version string)
	NewestVersion(version string)
	Log(line string)
	Progress(percent int)
	Completed(ok bool)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) CurrentVersion(string) {}
func (NopSink) NewestVersion(string)  {}
func (NopSink) Log(string)            {}
func (NopSink) Progress(int)          {}
func (NopSink) Completed(bool)        {}
