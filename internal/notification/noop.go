package notification

import "github.com/raykavin/dryrun/internal/core"

// Noop discards every notification. Used when no alert channel is configured.
type Noop struct{}

func (Noop) Notify(string)                                 {}
func (Noop) OnPositionOpened(string, string, core.Position) {}
func (Noop) OnPositionClosed(core.Trade, float64)          {}
func (Noop) OnError(error)                                 {}

var _ core.Notifier = Noop{}
