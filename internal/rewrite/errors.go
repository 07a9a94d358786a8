package rewrite

import "fmt"

// EnumerationError reports that the build directory could not be walked.
// It is fatal for a run.
type EnumerationError struct {
	Root string
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate %s: %v", e.Root, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// CopyError reports a single failed CopyObject call. It only ever affects
// the object it names.
type CopyError struct {
	Bucket string
	Source string
	Key    string
	Err    error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s to s3://%s/%s: %v", e.Source, e.Bucket, e.Key, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }
