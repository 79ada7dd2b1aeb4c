// Package backend defines the render-dispatch capability contract shared by
// every scheduling backend, along with the typed configuration schema sent to
// the client add-on and the job status vocabulary.
//
// A backend variant is chosen once at process start (see Kind) and driven by
// the protocol session through the Backend interface:
//   - Schema describes the user-editable options, in display order
//   - MergeConfig validates and applies a client-supplied option document
//   - StartRender dispatches a render of one uploaded .blend file
//   - Status aggregates scheduler state for one export path
//   - CancelRender cancels every job tracked for an export path
//   - ListRenderedOutputs enumerates finished frames for an export path
package backend
