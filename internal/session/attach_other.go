//go:build !windows

package session

import (
	"context"
	"errors"

	"github.com/luaconsole/overlay/internal/config"
)

// Attach is only supported inside a Windows host.
func Attach(context.Context, *config.Config) (*Session, error) {
	return nil, errors.New("session: attach requires windows")
}
