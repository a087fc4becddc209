// Package ext defines the extension system for the pipeline.
//
// Extensions are notified of lifecycle events and can react to them —
// recording audit entries, emitting alerts, updating dashboards.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about:
//
//	type auditor struct{}
//
//	func (auditor) Name() string { return "auditor" }
//
//	func (auditor) OnJobDeadLettered(ctx context.Context, j *job.Job, err error) error {
//	    return audit.Write(ctx, "dead_letter", j.ID.String(), err.Error())
//	}
//
//	registry := ext.NewRegistry(logger)
//	registry.Register(auditor{})
//
// Hook errors are logged and swallowed: an extension must never be able
// to fail a job.
package ext
