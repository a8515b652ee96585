// Package events defines the typed event contract shared by all assistant
// modules.
//
// Every event belongs to exactly one topic:
//
//   - utterance: finalized user input, spoken or typed.
//   - detection: perceptual observations from the vision module.
//   - response: assistant replies ready for synthesis and display.
//   - health: module state reports.
//   - lifecycle: supervisor announcements (startup, shutdown, degraded
//     capability).
//
// Events are immutable once published. The bus stamps a per-topic,
// strictly increasing sequence number on delivery, so consumers can detect
// drops and reordering without the event types themselves being mutable.
package events
