// Package intake admits uploaded result files into the processing registry.
// Submissions are validated structurally (file type, size, attributes
// schema) before any registry write, staged on disk, and handed to a
// bounded worker pool that runs the analysis pipeline.
package intake
