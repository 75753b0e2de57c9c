// Package hooks provides typed, priority-ordered extension points.
//
// Callbacks are registered against a Type and run highest priority first.
// Each callback sees the context accumulated so far and may return a partial
// Context that is merged forward. A failing callback never aborts the chain:
// the failure is logged, recorded under KeyErrors, and an ErrorHandler pass is
// triggered before the next callback runs.
//
// Modules contribute hooks explicitly through RegisterAll at their own
// initialisation:
//
//	m.RegisterAll([]hooks.Registration{
//		{Type: hooks.QualityGate, Name: "length", Priority: 90, Func: hooks.Gate("length", checkLength)},
//		{Type: hooks.ErrorHandler, Name: "alert", Func: alert},
//	})
package hooks
