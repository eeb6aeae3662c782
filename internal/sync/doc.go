// Package sync drives the per-source acquisition stages: media, subtitles,
// and metadata, in that order, each as one batch downloader invocation with
// persistent run bookkeeping.
//
// Outcomes are judged on evidence, never on downloader exit codes: an item
// succeeded when it shows up in the archive file or on disk after the batch
// run, and failed otherwise. Failures feed the retry table with exponential
// backoff so flaky items drop out of the hot path without being forgotten.
package sync
