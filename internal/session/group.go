package session

// Outcome is the result of one start or stop notification request within a group.
type Outcome struct {
	Characteristic string
	Err            error
}

// OK reports whether the request succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// GroupReport collects the outcomes of a SubscribeAll or UnsubscribeAll, in discovery order.
type GroupReport struct {
	Service  string
	Outcomes []Outcome
}

// Succeeded returns the characteristics whose request succeeded.
func (r *GroupReport) Succeeded() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.OK() {
			out = append(out, o.Characteristic)
		}
	}
	return out
}

// Failed returns the outcomes that carry an error.
func (r *GroupReport) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

func (r *GroupReport) partialError() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialSubscriptionError{Service: r.Service, Total: len(r.Outcomes), Failed: failed}
}

// barrier fires onSettled once n outcomes have been counted, successes and failures alike.
// It is only touched from the machine's event loop.
type barrier struct {
	remaining int
	onSettled func()
}

func newBarrier(n int, onSettled func()) *barrier {
	b := &barrier{remaining: n, onSettled: onSettled}
	if n == 0 {
		onSettled()
	}
	return b
}

func (b *barrier) done() {
	b.remaining--
	if b.remaining == 0 {
		b.onSettled()
	}
}
