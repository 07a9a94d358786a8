// Package rewrite duplicates generated HTML pages in S3 under clean,
// extension-less keys so that both /docs/guide.html and /docs/guide/
// resolve to the same object.
//
// The pipeline is:
//   - [Scan]: walks the generator's build directory, honoring exclusion patterns
//   - [CleanKey]: maps a page path to its clean key (strip .html and index, add trailing slash)
//   - [Router]: picks the destination bucket and key for each clean key
//   - [Dispatcher]: issues CopyObject requests through a bounded worker pool
//
// [Rewriter] ties these together and reports a [Summary] once every copy
// has settled. A failed copy is logged and counted but never cancels its
// siblings. An unreadable build directory is returned as an [EnumerationError].
package rewrite
