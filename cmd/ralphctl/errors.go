package main

import "errors"

// argError marks a usage/argument mistake (exit code 2).
type argError struct{ error }

func newArgError(msg string) error { return argError{errors.New(msg)} }

func asArgError(err error) bool {
	var e argError
	return errors.As(err, &e)
}

// refusedError marks a remote-side refusal, e.g. push-config without
// --force against an existing file (exit code 3).
type refusedError struct{ error }

func newRefusedError(msg string) error { return refusedError{errors.New(msg)} }

func asRefusedError(err error) bool {
	var e refusedError
	return errors.As(err, &e)
}
