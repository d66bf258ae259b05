// Package task defines the unit of work a worker runs.
package task

// Task is a numbered unit of work. Start runs it and returns its result,
// which must be encodable by the channel codec.
type Task interface {
	ID() int
	Start() any
}

// Unit is a Task built from a function. It is immutable after New.
type Unit struct {
	id   int
	work func() any
}

var _ Task = (*Unit)(nil)

// New returns a task with the given id running work.
func New(id int, work func() any) *Unit {
	return &Unit{id: id, work: work}
}

// ID returns the task id.
func (u *Unit) ID() int { return u.id }

// Start invokes the work function. A nil work function yields nil.
func (u *Unit) Start() any {
	if u.work == nil {
		return nil
	}
	return u.work()
}

// Countdown returns a task producing size integers counting down from
// size-1 to 0.
func Countdown(id, size int) *Unit {
	return New(id, func() any {
		out := make([]int, 0, max(size, 0))
		for i := size - 1; i >= 0; i-- {
			out = append(out, i)
		}
		return out
	})
}
