//go:build !windows

package rebase

import "errors"

func ModuleBase(string) (uintptr, error) {
	return 0, errors.New("rebase: module lookup requires windows")
}
