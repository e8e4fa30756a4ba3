//go:build windows

package unload

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Event is a manual-reset named event polled without blocking.
type Event struct {
	handle windows.Handle
	name   string
}

// CreateEvent creates or opens the unload event name.
func CreateEvent(name string) (*Event, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateEvent(nil, 1, 0, p)
	if err != nil && h == 0 {
		return nil, fmt.Errorf("create event %s: %w", name, err)
	}
	return &Event{handle: h, name: name}, nil
}

func (e *Event) Signaled() bool {
	ev, err := windows.WaitForSingleObject(e.handle, 0)
	return err == nil && ev == windows.WAIT_OBJECT_0
}

func (e *Event) Close() error {
	if e.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(e.handle)
	e.handle = 0
	return err
}

// SetEvent signals an existing unload event from another process.
func SetEvent(name string) error {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	h, err := windows.OpenEvent(windows.EVENT_MODIFY_STATE, false, p)
	if err != nil {
		return fmt.Errorf("open event %s: %w", name, err)
	}
	defer windows.CloseHandle(h)
	if err := windows.SetEvent(h); err != nil {
		return fmt.Errorf("set event %s: %w", name, err)
	}
	return nil
}
