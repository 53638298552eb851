package ports

// Instrumentation is the narrow metrics surface the core services emit
// into. The prometheus collector satisfies it; tests use NopInstrumentation.
type Instrumentation interface {
	MessageBlocked()
	SignalDropped()
	ModerationOutage()
	SetSessionsLive(n int)
}

type NopInstrumentation struct{}

func (NopInstrumentation) MessageBlocked()     {}
func (NopInstrumentation) SignalDropped()      {}
func (NopInstrumentation) ModerationOutage()   {}
func (NopInstrumentation) SetSessionsLive(int) {}
