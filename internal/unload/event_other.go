//go:build !windows

package unload

import "errors"

var errUnsupportedPlatform = errors.New("unload: named events require windows")

type Event struct{}

func CreateEvent(string) (*Event, error) { return nil, errUnsupportedPlatform }

func (*Event) Signaled() bool { return false }
func (*Event) Close() error   { return nil }

func SetEvent(string) error { return errUnsupportedPlatform }
