package task

import "errors"

var (
	// ErrAdmission is returned by Start when the kernel refuses to create the task.
	// The kernel's own error is wrapped alongside it.
	ErrAdmission = errors.New("task: admission failed")
	// ErrAlreadyStarted is returned by Start while the task is running.
	ErrAlreadyStarted = errors.New("task: already started")
	// ErrDeleted is returned by Start after Delete.
	ErrDeleted = errors.New("task: deleted")

	// ErrInvalidName is returned by Group.Add when a task name is invalid.
	//
	// Name rules (Group only; the kernel applies its own length limit):
	//   - non-empty
	//   - must match [A-Za-z0-9._-]
	ErrInvalidName = errors.New("task: invalid name")
	// ErrDuplicateName is returned by Group.Add when the name is already registered.
	ErrDuplicateName = errors.New("task: duplicate name")
	// ErrClosed is returned by Group.Add after Group.Delete.
	ErrClosed = errors.New("task: group closed")
)
