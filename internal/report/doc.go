// Package report defines the finished diagnostic artifact and its on-disk
// store. Artifacts are written atomically as JSON under the reports data
// directory; the registry records the returned reference on completion.
package report
