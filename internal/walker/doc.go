// Package walker traverses the ClickUp hierarchy (spaces, lists, task
// pages) and lazily produces the image attachments of each task that is
// not yet in the processed set.
//
// The walker itself keeps no durable state: it always re-walks from the
// top and relies on the resume store to short-circuit finished tasks
// cheaply. Listing failures are retried with the shared policy; a
// branch that keeps failing is abandoned (a structural failure) while
// its siblings continue.
package walker
