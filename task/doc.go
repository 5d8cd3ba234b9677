// Package task runs units of work as supervised tasks with a fixed
// lifecycle:
//
//	Created -> Running -> Completed | Failed | Cancelled | ShutdownAborted
//
// Tasks live in an Arena, indexed by ID. A parent owns its children and a
// child refers to its parent only by ID. Starting a task is idempotent and
// every Wait returns the same *Outcome.
//
// Bodies stop cooperatively. The context handed to a body is cancelled when
// the task is cancelled or shutdown is requested; CheckOrAbort reports the
// same condition as an error. Work that must not be interrupted halfway, such
// as a database commit, runs under Critical:
//
//	root := arena.NewRoot(ctx, "sync", task.Group(task.GroupFuncs{
//		Prepare: func(ctx context.Context, t *task.Task) error {
//			for _, lang := range langs {
//				t.Spawn(lang, "lang:"+lang, importLang(lang), task.WithGate(fileIO))
//			}
//			return nil
//		},
//	}))
//	outcome := root.Wait()
//
// ShutdownAborted and Cancelled outcomes are logged as warnings and never
// count as failures.
package task
