// Package dispatch implements the Usecase Dispatcher: a NodeKind → handler
// registry that, given a ready NodeInstance and its compiled NodeSpec,
// materialises the node's ordered Task chain, persists every task Standby,
// and emits the first task's ChangeMsg so the schedule engine's
// TaskSchedule can carry it through admission. Mirrors Warren's scheduler
// dispatch table selecting a strategy by service kind, generalised here to
// an interface per NodeKind instead of a single switch, since each kind's
// task chain shape differs enough to warrant its own type.
package dispatch
