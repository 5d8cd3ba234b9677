// Package shutdown provides the process-wide shutdown Signal and the
// phase-ordered exit hooks run after all tasks have drained.
//
// # Signal
//
// A Signal is a one-way flag. It is set by the first SIGINT/SIGTERM, by a
// failing root task, or by any caller of Request, and never clears:
//
//	sig := shutdown.NewSignal(log)
//	stop := sig.HandleSignals()
//	defer stop()
//
//	for _, item := range work {
//		if err := sig.CheckOrAbort(); err != nil {
//			return err // shutdown.ErrAborted
//		}
//		...
//	}
//
// Sleep and WaitUntilSet return early when the signal is set, so periodic
// loops end promptly. A second OS signal terminates the process with the
// default action.
//
// # Exit hooks
//
// A Coordinator runs registered hooks exactly once, lowest phase first.
// Hooks sharing a phase run concurrently:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.Register("store", shutdown.PhaseStorage, db.Close)
//	coord.Register("tracer", shutdown.PhaseTelemetry, tp.Shutdown)
//	err := coord.RunWithTimeout(10 * time.Second)
package shutdown
